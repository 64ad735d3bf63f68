package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/raihanakbr/dialogue-session-client/internal/config"
	"github.com/raihanakbr/dialogue-session-client/internal/errx"
	"github.com/raihanakbr/dialogue-session-client/internal/logx"
	"github.com/raihanakbr/dialogue-session-client/internal/playback"
	"github.com/raihanakbr/dialogue-session-client/internal/protocol"
	"github.com/raihanakbr/dialogue-session-client/internal/render"
	"github.com/raihanakbr/dialogue-session-client/internal/session"
	"github.com/raihanakbr/dialogue-session-client/internal/workflow"
)

type options struct {
	topic     string
	responses string
	upload    string
	audioOut  string
	reconnect bool
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "dialogue-client",
		Short: "Run one survey-to-dialogue session against the session server",
		Long: `dialogue-client opens a session for a topic, answers the generated survey
from a YAML or JSON file, waits for the analysis and program plan, then
streams and plays the generated dialogue.

Example:
  dialogue-client --topic "climate change" --responses answers.yaml --upload notes.txt`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.topic, "topic", "", "topic of the dialogue to generate")
	f.StringVar(&opts.responses, "responses", "", "YAML or JSON file with survey answers keyed by question id")
	f.StringVar(&opts.upload, "upload", "", "optional document to upload and attach as dialogue context")
	f.StringVar(&opts.audioOut, "audio-out", "", "optional file receiving the dialogue audio")
	f.BoolVar(&opts.reconnect, "reconnect", false, "offer to reconnect and restart when the connection is lost for good")
	cmd.MarkFlagRequired("topic")
	cmd.MarkFlagRequired("responses")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func execute(cmd *cobra.Command, opts options) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logx.Init(logx.LoggerOpts{Production: cfg.IsProduction()})

	responses, err := loadResponses(opts.responses)
	if err != nil {
		return fmt.Errorf("read survey responses %s: %w", opts.responses, err)
	}

	var media io.Writer
	if opts.audioOut != "" {
		f, err := os.Create(opts.audioOut)
		if err != nil {
			return fmt.Errorf("create audio output: %w", err)
		}
		defer f.Close()
		media = f
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := session.New(cfg, session.Options{MediaOutput: media})
	if err != nil {
		return err
	}

	var confirm func() bool
	if opts.reconnect {
		in := bufio.NewReader(cmd.InOrStdin())
		confirm = func() bool { return promptReconnect(in, cmd.ErrOrStderr()) }
	}
	if err := run(ctx, cfg, client, opts.topic, responses, opts.upload, confirm); err != nil {
		logx.Error().Err(err).Msg("Session ended with an error")
		return err
	}
	return nil
}

// promptReconnect asks the user to confirm a reconnect. EOF declines.
func promptReconnect(in *bufio.Reader, out io.Writer) bool {
	fmt.Fprint(out, "Connection lost. Press Enter to reconnect, Ctrl+C to quit. ")
	_, err := in.ReadString('\n')
	return err == nil
}

// run drives one workflow from topic to the end of playback.
// confirmReconnect, when set, is asked whether to reconnect and restart
// after the connection was lost for good.
func run(ctx context.Context, cfg *config.Config, client *session.Client, topic string, responses protocol.Responses, uploadPath string, confirmReconnect func() bool) error {
	changed := make(chan struct{}, 1)
	client.OnUpdate(func(s session.Snapshot) {
		fmt.Println(render.View(s))
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	loopDone := make(chan struct{})
	go func() {
		client.Run(ctx)
		close(loopDone)
	}()
	defer func() {
		cancel()
		<-loopDone
	}()

	if cfg.DebugAddr != "" {
		srv := &http.Server{Addr: cfg.DebugAddr, Handler: client.Handler()}
		go func() {
			logx.Info().Str("addr", cfg.DebugAddr).Msg("Debug API listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logx.Error().Err(err).Msg("Debug API stopped")
			}
		}()
		defer srv.Close()
	}

	fileID := ""
	if uploadPath != "" {
		rec, err := client.UploadFile(ctx, uploadPath)
		if err != nil {
			return fmt.Errorf("upload %s: %w", uploadPath, err)
		}
		fileID = rec.FileID
		if err := client.SetActiveFile(fileID); err != nil {
			return err
		}
	}

	if err := client.StartSession(topic); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}

		snap, err := client.Snapshot()
		if err != nil {
			return err
		}
		if snap.Settled() {
			if snap.Session.Stage == workflow.Failed && exhausted(snap) && confirmReconnect != nil && confirmReconnect() {
				client.Reconnect()
				if err := client.StartSession(topic); err != nil {
					return err
				}
				continue
			}
			if snap.Session.Stage == workflow.Failed {
				return fmt.Errorf("workflow failed: %s", snap.LastError)
			}
			logx.Info().Int("segments", snap.Playback.Segments).Msg("Dialogue finished")
			return nil
		}

		switch snap.Session.Stage {
		case workflow.SurveyActive:
			if err := client.SubmitSurvey(responses); err != nil {
				var verr *workflow.ValidationError
				if errors.As(err, &verr) {
					for _, v := range verr.Violations {
						logx.Error().Str("question", v.QuestionID).Str("constraint", v.Constraint).Msg(v.Message)
					}
				}
				return err
			}
		case workflow.PlanReady:
			if fileID != "" && !fileReady(snap, fileID) {
				continue
			}
			if err := client.GenerateDialogue(); err != nil {
				return err
			}
		case workflow.DialogueActive, workflow.Complete:
			if snap.Playback.State == playback.Idle && snap.Playback.Segments > 0 {
				if err := client.PlayAll(); err != nil {
					return err
				}
			}
		}
	}
}

// exhausted reports whether the latest notice is a lost connection.
func exhausted(s session.Snapshot) bool {
	n := len(s.Notices)
	return n > 0 && s.Notices[n-1].Kind == errx.KindConnectionExhausted
}

func fileReady(s session.Snapshot, fileID string) bool {
	for _, f := range s.Files {
		if f.FileID == fileID {
			return f.Processed
		}
	}
	return false
}

// loadResponses reads answers from YAML; JSON files parse the same way.
func loadResponses(path string) (protocol.Responses, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var responses protocol.Responses
	if err := yaml.Unmarshal(data, &responses); err != nil {
		return nil, err
	}
	if len(responses) == 0 {
		return nil, errors.New("no responses found")
	}
	return responses, nil
}
