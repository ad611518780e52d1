package main

import (
	"context"
	"os"
	"os/signal"
)

// controller is the part of the daemon an operator can steer at runtime.
type controller interface {
	Pause()
	Resume()
	RequestSweep()
}

const (
	actionPause  = "pause"
	actionResume = "resume"
	actionSweep  = "sweep"
)

// watchControl steers d from controlSignals until ctx is done.
func watchControl(ctx context.Context, d controller) {
	if len(controlSignals) == 0 {
		return
	}
	sigs := make(chan os.Signal, 1)
	for sig := range controlSignals {
		signal.Notify(sigs, sig)
	}
	go func() {
		defer signal.Stop(sigs)
		controlLoop(ctx, sigs, d, controlSignals)
	}()
}

func controlLoop(ctx context.Context, sigs <-chan os.Signal, d controller, actions map[os.Signal]string) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			action, ok := actions[sig]
			if !ok {
				continue
			}
			log.WithField("signal", sig.String()).Infof("%s requested", action)
			applyControl(action, d)
		}
	}
}

func applyControl(action string, d controller) {
	switch action {
	case actionPause:
		d.Pause()
	case actionResume:
		d.Resume()
	case actionSweep:
		d.RequestSweep()
	}
}
