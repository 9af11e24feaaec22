package main

import (
	"context"
	"log"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"

	"github.com/example/campus-presence/modules/gateway"
	"github.com/example/campus-presence/modules/history"
	"github.com/example/campus-presence/modules/presence"
)

const shutdownTimeout = 30 * time.Second

func main() {
	log.Println("=== Campus Presence - realtime presence and messaging core ===")

	// Create mono application
	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(shutdownTimeout),
		mono.WithLogLevel(mono.LogLevelInfo),
		mono.WithLogFormat(mono.LogFormatText),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	// Create modules
	presenceModule := presence.NewModule(app.Logger())
	historyModule := history.NewModule()
	gatewayModule := gateway.NewModule()

	// Wire the gateway and the presence core together manually
	// (the connection table and the relay are not exposed via ServiceContainer)
	presenceModule.SetSender(gatewayModule.Conns())
	gatewayModule.SetCore(presenceModule)

	// Register modules with the framework.
	// Order: independent modules first, then modules with dependencies
	// - presence: Core domain (relay state machine, EventEmitterModule)
	// - history: Durable message store (ServiceProviderModule + EventConsumerModule)
	// - gateway: Driving adapter (Fiber HTTP/WebSocket server, depends on history)
	app.Register(presenceModule) // Presence core + event emitter
	app.Register(historyModule)  // Message history + event consumer
	app.Register(gatewayModule)  // HTTP/WebSocket edge

	// Start application
	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	printStartupInfo()

	// Graceful shutdown
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				return app.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}

func printStartupInfo() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	log.Println("")
	log.Println("Application started successfully!")
	log.Println("")
	log.Println("Architecture:")
	log.Println("  - HTTP Framework: Fiber with WebSocket support")
	log.Println("  - Event Bus: NATS JetStream (internal pubsub)")
	log.Printf("  - NATS URL: %s", natsURL)
	log.Println("")
	log.Println("Event-Driven Presence:")
	log.Println("  - MessageSent events -> history module -> SQLite store")
	log.Println("  - PrivateMessageSent events -> history module -> SQLite store")
	log.Println("")
	log.Printf("REST API Endpoints (http://localhost:%s):", port)
	log.Println("  GET    /health                     - Health check")
	log.Println("  GET    /api/v1/rooms/:id/history   - Page through room history")
	log.Println("  POST   /api/v1/rooms/:id/history   - Persist a message")
	log.Println("")
	log.Printf("WebSocket Endpoint (ws://localhost:%s/ws):", port)
	log.Println("  Client events: authenticate, join_room, leave_room, send_message,")
	log.Println("                 typing_start, typing_stop, private_message, share_file")
	log.Println("")
	log.Println("Press Ctrl+C to shutdown gracefully")
}
