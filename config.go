package parley

import (
	"log"
	"os"
	"time"

	"github.com/parley-chat/parley/stores"
	"github.com/parley-chat/parley/tools"
)

// DefaultMaxToolIterations caps tool-execution rounds within one turn.
const DefaultMaxToolIterations = 5

// AgentConfig holds the collaborators and knobs for an Agent. Build one
// with NewAgentConfig and the With* chain.
type AgentConfig struct {
	Model             ChatModel
	Store             stores.ConversationStore
	Registry          *tools.Registry
	MaxToolIterations int
	Temperature       *float64
	ToolTimeout       time.Duration
	Logger            *log.Logger
}

// NewAgentConfig creates a configuration with an in-memory store, the
// built-in tool registry, and default limits. The model must be set
// before constructing an Agent.
func NewAgentConfig() *AgentConfig {
	return &AgentConfig{
		Store:             stores.NewMemoryStore(),
		Registry:          tools.DefaultRegistry(),
		MaxToolIterations: DefaultMaxToolIterations,
		ToolTimeout:       DefaultToolTimeout,
		Logger:            log.New(os.Stdout, "[AGENT] ", log.LstdFlags),
	}
}

// WithModel sets the LLM backend.
func (c *AgentConfig) WithModel(model ChatModel) *AgentConfig {
	c.Model = model
	return c
}

// WithStore sets the conversation store.
func (c *AgentConfig) WithStore(store stores.ConversationStore) *AgentConfig {
	c.Store = store
	return c
}

// WithRegistry sets the tool registry.
func (c *AgentConfig) WithRegistry(registry *tools.Registry) *AgentConfig {
	c.Registry = registry
	return c
}

// WithMaxToolIterations caps how many tool rounds a single turn may run.
func (c *AgentConfig) WithMaxToolIterations(n int) *AgentConfig {
	c.MaxToolIterations = n
	return c
}

// WithTemperature sets the default sampling temperature for turns that
// do not supply their own.
func (c *AgentConfig) WithTemperature(t float64) *AgentConfig {
	c.Temperature = &t
	return c
}

// WithToolTimeout bounds individual tool invocations.
func (c *AgentConfig) WithToolTimeout(d time.Duration) *AgentConfig {
	c.ToolTimeout = d
	return c
}

// WithLogger sets the agent's logger.
func (c *AgentConfig) WithLogger(logger *log.Logger) *AgentConfig {
	c.Logger = logger
	return c
}

// WithSQLiteStore sets a SQLite store at the given database path.
func (c *AgentConfig) WithSQLiteStore(dbPath string) *AgentConfig {
	store, err := stores.NewSQLiteStoreSimple(dbPath)
	if err != nil {
		panic("failed to create SQLite store: " + err.Error())
	}
	c.Store = store
	return c
}

// WithPostgresStore sets a PostgreSQL store with the given connection
// parameters.
func (c *AgentConfig) WithPostgresStore(host, user, password, dbname string, port int) *AgentConfig {
	store, err := stores.NewPostgresStoreDefault(host, user, password, dbname, port)
	if err != nil {
		panic("failed to create PostgreSQL store: " + err.Error())
	}
	c.Store = store
	return c
}

// WithRedisStore sets a Redis store at the given URL.
func (c *AgentConfig) WithRedisStore(url string) *AgentConfig {
	store, err := stores.NewRedisStoreSimple(url)
	if err != nil {
		panic("failed to create Redis store: " + err.Error())
	}
	c.Store = store
	return c
}
