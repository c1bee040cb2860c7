package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	parley "github.com/parley-chat/parley"
	"github.com/parley-chat/parley/models"
	"github.com/parley-chat/parley/models/deepseek"
	"github.com/parley-chat/parley/models/gemini"
	"github.com/parley-chat/parley/models/ollama"
	"github.com/parley-chat/parley/sessions"
	"github.com/parley-chat/parley/stores"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func main() {
	configPath := flag.String("config", "", "path to parleyd.yaml")
	flag.Parse()

	// Load .env file if it exists (not present in production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "[PARLEYD] ", log.LstdFlags)

	store, err := buildStore(cfg.Store)
	if err != nil {
		logger.Fatalf("Failed to create store: %v", err)
	}

	model, err := buildModel(cfg.Model)
	if err != nil {
		logger.Fatalf("Failed to create model: %v", err)
	}

	agentConfig := parley.NewAgentConfig().
		WithModel(model).
		WithStore(store)
	if cfg.Model.Temperature != nil {
		agentConfig = agentConfig.WithTemperature(*cfg.Model.Temperature)
	}
	agent, err := parley.NewAgent(agentConfig)
	if err != nil {
		logger.Fatalf("Failed to create agent: %v", err)
	}
	defer agent.Close()

	if cfg.Janitor.Enabled {
		janitor, err := stores.NewJanitor(store, cfg.Janitor.MaxIdle, cfg.Janitor.Schedule)
		if err != nil {
			logger.Fatalf("Failed to create janitor: %v", err)
		}
		janitor.Start()
		defer janitor.Stop()
	}

	router := buildRouter(agent)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Printf("Listening on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server error: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Println("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("Shutdown error: %v", err)
	}
}

func buildStore(cfg StoreConfig) (stores.ConversationStore, error) {
	config := stores.NewStoreConfig(cfg.Type, cfg.Connection)
	if cfg.TTL > 0 {
		config = config.WithOption("ttl", cfg.TTL.String())
	}
	return stores.NewStore(config)
}

func buildModel(cfg ModelConfig) (parley.ChatModel, error) {
	switch cfg.Provider {
	case "deepseek", "":
		client := deepseek.NewClient(cfg.Name)
		if cfg.BaseURL != "" {
			client.BaseURL = cfg.BaseURL
		}
		return client, nil
	case "ollama":
		return ollama.NewClient(cfg.BaseURL, cfg.Name)
	case "gemini":
		return gemini.NewClient(cfg.Name), nil
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.Provider)
	}
}

func buildRouter(agent *parley.Agent) *gin.Engine {
	router := gin.Default()
	r := router.Group("/api/v1")

	r.POST("/chat/:conversationID", func(c *gin.Context) {
		conversationID := c.Param("conversationID")

		var req models.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		session := sessions.NewHTTPSession(conversationID, agent)
		resp, err := session.RunSingleInteraction(c.Request.Context(), req)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	})

	r.POST("/chat/stream/:conversationID", func(c *gin.Context) {
		conversationID := c.Param("conversationID")

		var req models.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")

		session := sessions.NewHTTPSession(conversationID, agent)
		writer := &GinSSEWriter{Context: c}
		if err := session.RunSSEInteraction(c.Request.Context(), req, writer); err != nil {
			writer.WriteSSEError(err)
		}
	})

	r.GET("/chat/history/:conversationID", func(c *gin.Context) {
		session := sessions.NewHTTPSession(c.Param("conversationID"), agent)
		history, err := session.GetChatHistory()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"history": history})
	})

	r.GET("/conversations", func(c *gin.Context) {
		ids, err := agent.Store().ListConversations()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"conversations": ids})
	})

	r.DELETE("/conversations/:conversationID", func(c *gin.Context) {
		if err := agent.Store().DeleteConversation(c.Param("conversationID")); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})

	r.GET("/ws", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("WebSocket upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		sessionID := c.Query("session_id")
		if sessionID == "" {
			sessionID = "default_session"
		}
		session := sessions.NewAgentSession(sessionID, conn, agent)
		session.RunLoop(c.Request.Context())
	})

	router.GET("/healthz", func(c *gin.Context) {
		if err := agent.Store().Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router
}

// GinSSEWriter implements sessions.SSEWriter over a gin context.
type GinSSEWriter struct {
	Context *gin.Context
}

func (w *GinSSEWriter) WriteSSE(data string) error {
	w.Context.SSEvent("message", data)
	w.Context.Writer.Flush()
	return nil
}

func (w *GinSSEWriter) WriteSSEError(err error) error {
	w.Context.SSEvent("error", err.Error())
	w.Context.Writer.Flush()
	return nil
}

func (w *GinSSEWriter) Flush() {
	w.Context.Writer.Flush()
}
