package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/davecgh/go-spew/spew"
	log "github.com/sirupsen/logrus"

	"github.com/ssungk/rtmpc/pkg/rtmp"
)

func main() {
	configPath := flag.String("config", "", "YAML options file")
	url := flag.String("url", "", "rtmp:// or rtmps:// URL, overrides the config")
	method := flag.String("call", "", "method to invoke with the remaining arguments as strings")
	play := flag.String("play", "", "stream name to play")
	subscribe := flag.String("subscribe", "", "Flex destination to subscribe to")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if err := run(*configPath, *url, *method, *play, *subscribe, *verbose, flag.Args()); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func run(configPath, url, method, play, subscribe string, verbose bool, args []string) error {
	opts := &rtmp.Options{}
	if configPath != "" {
		loaded, err := rtmp.LoadOptions(configPath)
		if err != nil {
			return err
		}
		opts = loaded
	}

	if opts.LogLevel != "" {
		level, err := log.ParseLevel(opts.LogLevel)
		if err != nil {
			return err
		}
		log.SetLevel(level)
	}
	if verbose {
		log.SetLevel(log.DebugLevel)
		opts.LogLevel = log.DebugLevel.String()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts.OnStatus = func(ev rtmp.StatusEvent) {
		log.WithFields(log.Fields{"streamID": ev.StreamID, "level": ev.Info.Level}).Info(ev.Info.Code)
	}
	opts.OnMessage = func(ev rtmp.MessageEvent) {
		log.WithFields(log.Fields{"clientID": ev.ClientID, "subtopic": ev.Subtopic}).Info("message")
		spew.Dump(ev.Body)
	}
	opts.OnMedia = func(ev rtmp.MediaEvent) {
		log.WithFields(log.Fields{"type": ev.Type, "timestamp": ev.Timestamp, "length": len(ev.Data)}).Debug("media")
	}
	opts.OnDisconnect = func(ev rtmp.DisconnectEvent) {
		log.WithError(ev.Err).WithField("reason", ev.Reason).Info("disconnected")
		stop()
	}
	opts.OnCallbackError = func(err error) {
		log.WithError(err).Warn("callback failed")
	}

	conn, err := rtmp.Dial(ctx, url, *opts)
	if err != nil {
		return err
	}
	defer conn.Close()

	if method != "" {
		callArgs := make([]any, len(args))
		for i, a := range args {
			callArgs[i] = a
		}
		result, err := conn.Invoke(ctx, method, callArgs...)
		if err != nil {
			return fmt.Errorf("invoke %s: %w", method, err)
		}
		spew.Dump(result)
	}

	if play == "" && subscribe == "" {
		return nil
	}
	if play != "" {
		stream, err := conn.CreateStream(ctx)
		if err != nil {
			return err
		}
		defer stream.Close()
		if err := stream.Play(play); err != nil {
			return err
		}
	}
	if subscribe != "" {
		if err := conn.Subscribe(ctx, "", subscribe, ""); err != nil {
			return err
		}
	}

	// 인터럽트 또는 연결 종료까지 대기
	<-ctx.Done()
	return nil
}
