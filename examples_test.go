package logrotor_test

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golift.io/logrotor"
	"golift.io/logrotor/event"
	"golift.io/logrotor/retention"
)

// This example shows how to get a rotating log file just like
// https://github.com/natefinch/lumberjack. It rotates at 100Mb and keeps
// five plain generations. Nothing is compressed or swept.
func Example_lumberjack() {
	engine, err := logrotor.New(&logrotor.Config{
		BaseDir: "/var/log/service",
		DirMode: 0o755, // world-readable.
	})
	if err != nil {
		panic(err)
	}

	stream, err := engine.Open(&logrotor.StreamConfig{
		Name:   "service",
		Path:   "/var/log/service.log",
		Policy: logrotor.Policy{MaxSize: 100 * 1024 * 1024, MaxGenerations: 5},
	})
	if err != nil {
		panic(err)
	}

	log.SetOutput(stream)
}

// This example runs three streams the way a service with separate application,
// error and audit logs would. Archives are gzipped, and the audit log keeps its
// expired files in a deleted/ folder instead of removing them.
// All of the struct members for logrotor.Config are shown.
func ExampleNew() {
	const (
		TenMB = 10 * 1024 * 1024
		Month = time.Hour * 24 * 30
	)

	engine, err := logrotor.New(&logrotor.Config{
		BaseDir:         "/var/log/myapp",
		SweepInterval:   time.Hour,
		SweepSchedule:   "",                     // cron spec, wins over SweepInterval.
		CompressWorkers: 2,                      // default: 2
		CompressLevel:   0,                      // gzip default.
		ShutdownTimeout: 5 * time.Second,        // default: 5s
		FileMode:        logrotor.FileMode,      // default: 0600
		DirMode:         logrotor.DirMode,       // default: 0750
		Logger:          slog.Default(),         // default: slog.Default()
		OnEvent:         nil,                    // optional event hook.
		Filer:           nil,                    // use default: os.Remove, os.Rename, etc.
		Streams: []*logrotor.StreamConfig{
			{Name: "APP", Policy: logrotor.Policy{MaxSize: TenMB, MaxGenerations: 10, Compress: true}},
			{Name: "ERROR", Policy: logrotor.Policy{MaxSize: TenMB, MaxGenerations: 10, Compress: true}},
			{
				Name:   "AUDIT",
				Policy: logrotor.Policy{MaxSize: TenMB, MaxGenerations: 100, Compress: true},
				Retention: &retention.Window{
					MaxAge:      Month,
					Destination: retention.Destination{Action: retention.Move, Dir: "deleted"},
				},
			},
		},
	})
	if err != nil {
		panic(err)
	}
	defer engine.Close()

	_, _ = engine.Write("AUDIT", []byte("user logged in\n"))
}

// This example demonstrates how to act on rotation events.
// The hook is called inline, so make it snappy.
func Example_onEvent() {
	engine, err := logrotor.New(&logrotor.Config{
		BaseDir: "/var/log/myapp",
		OnEvent: func(e *event.Event) {
			if e.Kind == event.Compressed {
				// log.Printf would deadlock if log's output were this engine.
				os.Stderr.WriteString("compressed: " + e.Path + "\n")
			}
		},
		Streams: []*logrotor.StreamConfig{{Name: "app", Policy: logrotor.Policy{Compress: true}}},
	})
	if err != nil {
		panic(err)
	}
	defer engine.Close()
}

// This example fans events out to a channel with an event.Bus.
func ExampleEvents() {
	bus := event.NewBus()
	events, cancel := bus.Subscribe(100)

	defer cancel()

	engine, err := logrotor.New(&logrotor.Config{
		BaseDir: "/var/log/myapp",
		OnEvent: logrotor.Events(bus, nil),
	})
	if err != nil {
		panic(err)
	}
	defer engine.Close()

	go func() {
		for e := range events {
			log.Printf("%s: %s %s", e.Kind, e.Stream, e.Path)
		}
	}()
}

// Rotate a log on SIGHUP signal, and sweep on SIGUSR1.
func ExampleStream_Rotate() {
	engine, err := logrotor.New(&logrotor.Config{
		Streams: []*logrotor.StreamConfig{{
			Name:      "service",
			Path:      "/var/log/service.log",
			Retention: &retention.Window{MaxAge: 7 * 24 * time.Hour},
		}},
	})
	if err != nil {
		panic(err)
	}

	stream, _ := engine.Stream("service")
	log.SetOutput(stream)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGHUP, syscall.SIGUSR1)

	go func() {
		for sig := range sigc {
			if sig == syscall.SIGUSR1 {
				_, _ = engine.Sweep(context.Background())
				continue
			}

			if _, err := stream.Rotate(); err != nil {
				panic(err)
			}
		}
	}()
}
