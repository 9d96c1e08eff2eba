package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"duochat/core"
	"duochat/pubsub"
	"duochat/ws"
)

type App struct {
	config  *Config
	db      *core.SQLiteDB
	context context.Context
	server  *http.Server
	logger  *slog.Logger
	router  chi.Router

	publisher   *pubsub.GoChannelBus
	hub         *ws.Hub
	eventRouter *core.EventRouter

	userStore    core.UserStore
	messageStore core.MessageStore
	presence     *core.Presence
	chat         *core.ChatService

	chatHandler *ChatHandler
	userHandler *UserHandler

	exit chan int

	cleanupFuncs []func(context.Context)
}

func New(ctx context.Context, config *Config) *App {
	var err error
	app := &App{
		exit: make(chan int),
	}
	if ctx == nil {
		ctx, _ = signal.NotifyContext(
			context.Background(),
			syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	}
	app.context = ctx

	if config == nil {
		config, err = LoadConfig()
		if err != nil {
			failed(1, "failed to load config: %v\n", err)
		}
	}
	if err := config.Validate(); err != nil {
		failed(1, FormatValidationErrors(err))
	}
	app.config = config

	app.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				source, _ := a.Value.Any().(*slog.Source)
				if source != nil {
					source.File = filepath.Base(source.File)
				}
			}
			return a
		},
	}))

	sqliteOptions := &core.SQLiteDBOption{
		Mode:        "rwc",
		Cache:       "shared",
		JournalMode: "WAL",
	}
	app.db, err = core.NewSQLiteDB(app.config.SQLite.File, app.config.SQLite.Migrations, sqliteOptions)
	if err != nil {
		failed(1, "failed to open database: %v\n", err)
	}
	app.AddCleanupFunc(func(ctx context.Context) {
		app.db.Close()
	})
	if err := app.db.Migrate(); err != nil {
		failed(1, "failed to migrate database: %v\n", err)
	}

	app.userStore = core.NewSQLiteUserStore(app.db.DB)
	app.messageStore = core.NewSQLiteMessageStore(app.db.DB)
	app.presence = core.NewPresence()
	app.chat = core.NewChatService(app.messageStore, app.userStore, app.presence, app.logger)

	if err := EnsureSeedUsers(app.context, app.userStore, app.logger); err != nil {
		failed(1, "failed to seed users: %v\n", err)
	}

	app.publisher = pubsub.NewGoChannelBus(app.logger)
	app.AddCleanupFunc(func(ctx context.Context) {
		app.publisher.Close()
	})

	app.hub = ws.NewHub(app.context, app.publisher, app.logger)
	app.hub.OnUserLeftRoom(app.chat.Leave)
	app.AddCleanupFunc(func(ctx context.Context) {
		app.hub.Close()
	})

	app.eventRouter = core.NewEventRouter(app.context, app.logger, app.hub)
	app.eventRouter.On(SendEvent, app.SendEventHandler)
	app.eventRouter.On(EditEvent, app.EditEventHandler)
	app.eventRouter.On(DeleteEvent, app.DeleteEventHandler)
	app.eventRouter.On(EnterEvent, app.EnterEventHandler)

	app.chatHandler = NewChatHandler(app.chat)
	app.userHandler = NewUserHandler(app.userStore)

	router := chi.NewRouter()
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   app.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	router.Get("/ws", app.connectWSHandler)

	router.Route("/api", func(r chi.Router) {
		r.Get("/users", app.userHandler.GetUsersHandler)
		r.Get("/rooms/{roomID}/messages", app.chatHandler.RoomMessagesHandler)
	})

	app.router = router

	app.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", app.config.Hostname, app.config.Port),
		Handler: app.router,
		BaseContext: func(listener net.Listener) context.Context {
			return app.context
		},
	}

	return app
}

// connectWSHandler attaches a websocket connection for a known user. The
// uid query parameter is the whole identity story; real authentication is
// out of scope.
func (app *App) connectWSHandler(w http.ResponseWriter, r *http.Request) {
	uid := r.URL.Query().Get("uid")
	if uid == "" {
		writeJSONError(w, http.StatusBadRequest, "uid is required")
		return
	}

	user, err := app.userStore.GetUserByUID(r.Context(), uid)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil {
		writeJSONError(w, http.StatusNotFound, "unknown user")
		return
	}

	if err := app.hub.Connect(user.UID, w, r); err != nil {
		app.logger.Error(fmt.Sprintf("Connect: %v", err))
	}
}

func (app *App) Start() {
	app.eventRouter.Listen()
	app.AddCleanupFunc(func(ctx context.Context) {
		app.eventRouter.Close(ctx)
	})

	// listen for shutdown signal
	go func() {
		<-app.context.Done()
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		var wg sync.WaitGroup

		for _, f := range app.cleanupFuncs {
			wg.Add(1)
			go func(f func(context.Context)) {
				defer wg.Done()
				f(closeCtx)
			}(f)
		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			app.logger.Info("app shutdown gracefully")
			app.exit <- 0
		case <-closeCtx.Done():
			app.logger.Info("app shutdown timed out")
			app.exit <- 1
		}
	}()

	app.AddCleanupFunc(func(ctx context.Context) {
		app.server.Shutdown(ctx)
	})
	app.logger.Info(fmt.Sprintf("app running on: %s:%d", app.config.Hostname, app.config.Port))

	err := app.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		failed(1, "server error: %v\n", err)
	}

	code := <-app.exit
	if code != 0 {
		failed(code, "app exit with code: %d\n", code)
	}
	os.Exit(code)
}

func (app *App) AddCleanupFunc(f func(context.Context)) {
	app.cleanupFuncs = append(app.cleanupFuncs, f)
}

func failed(code int, s string, args ...interface{}) {
	fmt.Printf(s, args...)
	os.Exit(code)
}
