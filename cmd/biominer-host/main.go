package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"biominer/internal/config"
	"biominer/internal/discovery"
	"biominer/internal/provider"
	"biominer/pkg/biocompute/factory"
	"biominer/pkg/mining"
	"biominer/pkg/training"
)

const portFile = "/tmp/biominer-host.port"

// Configuration flags
var (
	// Server configuration
	port      = flag.Int("port", 0, "HTTP API server port (0 = auto-find open port)")
	enableAPI = flag.Bool("api", true, "enable REST API server")

	// Signal source configuration
	sourceName     = flag.String("source", "", "signal source: mea, simnet (empty = auto-detect)")
	controllerAddr = flag.String("controller", "", "MEA controller address for remote diagnostics (empty = .env / discovery)")
	sshUser        = flag.String("ssh-user", "", "MEA controller SSH username")
	sshPassword    = flag.String("ssh-password", "", "MEA controller SSH password")
	simSeed        = flag.Int64("sim-seed", 0, "simulated network weight seed (0 = time-based)")

	// Mining configuration
	strategy   = flag.String("strategy", "bioguided", "starting point strategy: uniform, fibonacci, bioguided")
	pointCount = flag.Int("points", mining.DefaultPointCount, "number of search windows per attempt")
	windowSize = flag.Uint("window-size", mining.DefaultWindowSize, "nonces per search window")
	workers    = flag.Int("workers", 0, "search workers (0 = GOMAXPROCS)")
	memoryPath = flag.String("memory", "", "pattern memory persistence path (empty = in-memory only)")

	// Provider configuration
	providerURL = flag.String("provider", "", "block data provider base URL")

	// Training configuration
	sessionDir    = flag.String("session-dir", ".", "directory for persisted training sessions")
	validateEvery = flag.Int("validate-every", training.DefaultValidateEvery, "blocks between periodic validation passes")

	// Network discovery configuration
	discoverNetwork  = flag.Bool("discover", true, "scan the network for an MEA controller when none is configured")
	discoverySubnet  = flag.String("subnet", "", "network subnet to scan (CIDR, empty = auto-detect)")
	discoveryPort    = flag.Int("discovery-port", 7340, "MEA controller control port")
	discoveryTimeout = flag.Duration("discovery-timeout", 2*time.Second, "timeout for each controller probe")
)

func init() {
	env := config.LoadEnvConfig()
	if env.ControllerIP != "" && *controllerAddr == "" {
		*controllerAddr = env.ControllerIP
	}
	if env.SSHUsername != "" && *sshUser == "" {
		*sshUser = env.SSHUsername
	}
	if env.SSHPassword != "" && *sshPassword == "" {
		*sshPassword = env.SSHPassword
	}
	if env.ProviderURL != "" && *providerURL == "" {
		*providerURL = env.ProviderURL
	}
	if env.Source != "" && *sourceName == "" {
		*sourceName = env.Source
	}
	if env.MemoryPath != "" && *memoryPath == "" {
		*memoryPath = env.MemoryPath
	}
}

// Orchestrator owns the signal source factory, the miner and at most one
// live training session.
type Orchestrator struct {
	sources   *factory.SourceFactory
	miner     *mining.Miner
	blocks    *provider.Client
	startTime time.Time

	mu      sync.Mutex
	trainer *training.Trainer
	lastRun *training.Session
}

// MineRequest asks for one mining attempt against a historical block.
type MineRequest struct {
	Height  uint64 `json:"height"`
	Timeout int    `json:"timeout_seconds,omitempty"`
}

// TrainRequest starts a training session.
type TrainRequest struct {
	StartHeight   uint64 `json:"start_height"`
	Count         int    `json:"count"`
	ValidateEvery int    `json:"validate_every,omitempty"`
}

// SwitchRequest selects a new active signal source.
type SwitchRequest struct {
	Source string `json:"source"`
}

func main() {
	flag.Parse()

	log.Printf("BioMiner host starting...")

	controller := *controllerAddr
	if controller == "" && *discoverNetwork {
		controller = discoverController()
	}

	sourceConfig := &factory.SourceConfig{
		PreferredOrder: preferredOrder(),
		ControllerAddr: controller,
		SSHUser:        *sshUser,
		SSHPassword:    *sshPassword,
		SimSeed:        *simSeed,
		EnableFallback: true,
	}
	sources := factory.NewSourceFactory(sourceConfig)
	if err := sources.InitializeActive(); err != nil {
		log.Fatalf("No signal source available: %v", err)
	}
	log.Printf("Active signal source: %s", sources.ActiveName())

	minerConfig := mining.Config{
		Strategy:   mining.Strategy(*strategy),
		PointCount: *pointCount,
		WindowSize: uint32(*windowSize),
		Workers:    *workers,
		MemoryPath: *memoryPath,
	}
	miner, err := mining.NewMiner(minerConfig, sources)
	if err != nil {
		log.Fatalf("Failed to create miner: %v", err)
	}

	var blocks *provider.Client
	if *providerURL != "" {
		blocks = provider.NewClient(*providerURL)
		log.Printf("Block provider: %s", *providerURL)
	} else {
		log.Printf("No block provider configured; mining and training by height are disabled")
	}

	orch := &Orchestrator{
		sources:   sources,
		miner:     miner,
		blocks:    blocks,
		startTime: time.Now(),
	}

	if !*enableAPI {
		log.Fatalf("API disabled and no other mode available")
	}

	apiPort, err := findOpenPort(*port)
	if err != nil {
		log.Fatalf("Failed to find available port: %v", err)
	}
	if err := os.WriteFile(portFile, []byte(fmt.Sprintf("%d", apiPort)), 0644); err != nil {
		log.Printf("Warning: failed to write port file: %v", err)
	}

	runAPIServer(orch, apiPort)
}

func preferredOrder() []string {
	if *sourceName != "" {
		return []string{*sourceName}
	}
	return []string{"mea", "simnet"}
}

func discoverController() string {
	log.Printf("Scanning for MEA controllers...")
	cfg := discovery.NewDiscoveryConfig()
	cfg.Port = *discoveryPort
	cfg.Timeout = *discoveryTimeout
	if *discoverySubnet != "" {
		cfg.Subnet = *discoverySubnet
	}

	results, err := discovery.DiscoverControllers(cfg)
	if err != nil {
		log.Printf("Warning: controller discovery failed: %v", err)
		return ""
	}
	best := discovery.FindBestController(results)
	if best == nil {
		log.Printf("No MEA controller found on network")
		return ""
	}
	log.Printf("Found MEA controller at %s (firmware %s, %d channels, %dms)",
		best.Address, best.Version, best.Channels, best.LatencyMs)
	return best.IPAddress
}

// findOpenPort returns the requested port, or probes for a free one when
// the request is 0.
func findOpenPort(requested int) (int, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", requested))
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// runAPIServer starts the REST API server
func runAPIServer(orch *Orchestrator, apiPort int) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api/v1")
	{
		api.POST("/mine", orch.handleMine)
		api.POST("/train", orch.handleTrainStart)
		api.POST("/train/stop", orch.handleTrainStop)
		api.GET("/status", orch.handleStatus)
		api.GET("/session", orch.handleSession)
		api.GET("/sources", orch.handleSources)
		api.POST("/sources/switch", orch.handleSourceSwitch)
		api.GET("/health", orch.handleHealth)
		api.GET("/metrics", orch.handleMetrics)
		api.POST("/shutdown", orch.handleShutdown)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", apiPort),
		Handler: router,
	}

	go func() {
		log.Printf("API server listening on :%d", apiPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	os.Remove(portFile)

	orch.mu.Lock()
	if orch.trainer != nil {
		orch.trainer.Stop()
	}
	orch.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	if err := orch.miner.PersistMemory(); err != nil {
		log.Printf("Warning: failed to persist pattern memory: %v", err)
	}
	if err := orch.sources.ShutdownAll(); err != nil {
		log.Printf("Warning: source shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// handleMine runs one mining attempt against a fetched historical block.
func (o *Orchestrator) handleMine(c *gin.Context) {
	if o.blocks == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no block provider configured"})
		return
	}

	var req MineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	timeout := 5 * time.Minute
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout) * time.Second
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	block, err := o.blocks.FetchBlock(ctx, req.Height, false)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	header, err := block.Header()
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	result, err := o.miner.Mine(ctx, header)
	if err != nil {
		switch {
		case errors.Is(err, mining.ErrNoNonceFound):
			// Exhaustion is a normal outcome, not a server fault
			c.JSON(http.StatusOK, gin.H{"found": false, "attempt": result})
		case errors.Is(err, mining.ErrInvalidResponse):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"found":       result.Found,
		"nonce":       result.Nonce,
		"hash":        result.Hash,
		"known_nonce": block.Nonce,
		"nonce_match": result.Found && result.Nonce == block.Nonce,
		"attempt":     result,
	})
}

// handleTrainStart launches a background training session.
func (o *Orchestrator) handleTrainStart(c *gin.Context) {
	if o.blocks == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no block provider configured"})
		return
	}

	var req TrainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	trainable, ok := o.sources.ActiveSource().(training.TrainableSource)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{
			"error": fmt.Sprintf("active source %q does not support supervised training", o.sources.ActiveName()),
		})
		return
	}

	every := *validateEvery
	if req.ValidateEvery > 0 {
		every = req.ValidateEvery
	}

	cfg := training.Config{
		StartHeight:   req.StartHeight,
		Count:         req.Count,
		ValidateEvery: every,
		Strategy:      mining.Strategy(*strategy),
		PointCount:    *pointCount,
		WindowSize:    uint32(*windowSize),
		SessionPath:   sessionPath(),
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.trainer != nil {
		snap := o.trainer.GetSessionSnapshot()
		if !terminal(snap.Status) {
			c.JSON(http.StatusConflict, gin.H{"error": "training session already running", "session_id": snap.SessionID})
			return
		}
	}

	trainer, err := training.NewTrainer(cfg, o.blocks, trainable, o.miner.Memory())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	o.trainer = trainer

	go func() {
		if err := trainer.Run(context.Background()); err != nil {
			log.Printf("Training session failed: %v", err)
		}
		snap := trainer.GetSessionSnapshot()
		o.mu.Lock()
		o.lastRun = &snap
		o.mu.Unlock()
	}()

	snap := trainer.GetSessionSnapshot()
	c.JSON(http.StatusAccepted, gin.H{"session_id": snap.SessionID, "status": snap.Status})
}

// handleTrainStop requests a graceful stop of the live session.
func (o *Orchestrator) handleTrainStop(c *gin.Context) {
	o.mu.Lock()
	trainer := o.trainer
	o.mu.Unlock()

	if trainer == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no training session"})
		return
	}
	trainer.Stop()
	c.JSON(http.StatusOK, gin.H{"message": "stop requested"})
}

// handleStatus reports the miner's counters and the active source.
func (o *Orchestrator) handleStatus(c *gin.Context) {
	status := o.miner.GetStatus()
	c.JSON(http.StatusOK, gin.H{
		"mining":          status.Mining,
		"attempts":        status.Attempts,
		"successes":       status.Successes,
		"total_hashes":    status.TotalHashes,
		"last_hash_rate":  status.LastHashRate,
		"last_confidence": status.LastConfidence,
		"memory_size":     status.MemorySize,
		"active_source":   o.sources.ActiveName(),
		"training":        o.trainingStatus(),
		"uptime":          time.Since(o.startTime).String(),
	})
}

func (o *Orchestrator) trainingStatus() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.trainer == nil {
		return "none"
	}
	return string(o.trainer.GetSessionSnapshot().Status)
}

// handleSession returns the live (or most recent) training session.
func (o *Orchestrator) handleSession(c *gin.Context) {
	o.mu.Lock()
	trainer := o.trainer
	o.mu.Unlock()

	if trainer == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no training session"})
		return
	}
	c.JSON(http.StatusOK, trainer.GetSessionSnapshot())
}

// handleSources reports the source detection report.
func (o *Orchestrator) handleSources(c *gin.Context) {
	c.JSON(http.StatusOK, o.sources.GetDetectionReport())
}

// handleSourceSwitch activates a different signal source.
func (o *Orchestrator) handleSourceSwitch(c *gin.Context) {
	var req SwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	o.mu.Lock()
	if o.trainer != nil && !terminal(o.trainer.GetSessionSnapshot().Status) {
		o.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "cannot switch sources while training"})
		return
	}
	o.mu.Unlock()

	if err := o.sources.SwitchTo(req.Source); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active_source": o.sources.ActiveName()})
}

// handleHealth handles health check requests
func (o *Orchestrator) handleHealth(c *gin.Context) {
	active := o.sources.ActiveSource()
	status := "healthy"
	if active == nil || !active.IsReady() {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        status,
		"active_source": o.sources.ActiveName(),
		"uptime":        time.Since(o.startTime).String(),
	})
}

// handleMetrics handles metrics requests
func (o *Orchestrator) handleMetrics(c *gin.Context) {
	status := o.miner.GetStatus()

	diag := ""
	if active := o.sources.ActiveSource(); active != nil {
		diag = active.GetDiagnosticInfo()
	}

	c.JSON(http.StatusOK, gin.H{
		"attempts":        status.Attempts,
		"successes":       status.Successes,
		"total_hashes":    status.TotalHashes,
		"last_hash_rate":  status.LastHashRate,
		"memory_size":     status.MemorySize,
		"source_diag":     diag,
		"uptime":          time.Since(o.startTime).String(),
	})
}

// handleShutdown handles a request to gracefully shut down the server.
func (o *Orchestrator) handleShutdown(c *gin.Context) {
	log.Println("Received shutdown request via API...")
	c.JSON(http.StatusOK, gin.H{"message": "shutdown sequence initiated"})

	go func() {
		time.Sleep(100 * time.Millisecond)
		p, err := os.FindProcess(os.Getpid())
		if err != nil {
			log.Printf("Error finding process to signal shutdown: %v", err)
			return
		}
		if err := p.Signal(syscall.SIGTERM); err != nil {
			log.Printf("Error sending SIGTERM to self: %v", err)
		}
	}()
}

func sessionPath() string {
	return fmt.Sprintf("%s/session_%s.json", *sessionDir, time.Now().Format("20060102_150405"))
}

func terminal(status training.SessionStatus) bool {
	switch status {
	case training.StatusComplete, training.StatusStopped, training.StatusError:
		return true
	}
	return false
}
