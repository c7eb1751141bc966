package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"lanxfer/config"
	"lanxfer/discovery"
	"lanxfer/fileio"
	"lanxfer/history"
	"lanxfer/model"
	"lanxfer/platform"
	"lanxfer/socket"
	"lanxfer/transfer"
)

func main() {
	app := &cli.App{
		Name:  "lanxfer",
		Usage: "peer-to-peer LAN file transfer",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "download-dir", Usage: "override the configured download directory"},
			&cli.StringFlag{Name: "password", Usage: "encryption password shared out of band with peers", EnvVars: []string{"LANXFER_PASSWORD"}},
			&cli.BoolFlag{Name: "auto-accept", Usage: "accept every inbound transfer without prompting"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "trace, debug, info, warn, error"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("lanxfer exited with an error")
	}
}

func run(c *cli.Context) error {
	log := logrus.StandardLogger()
	if level, err := logrus.ParseLevel(c.String("log-level")); err == nil {
		log.SetLevel(level)
	}

	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	dataDir := filepath.Dir(cfgPath)

	if dir := c.String("download-dir"); dir != "" {
		cfg.DownloadDir = dir
	}

	log.WithFields(logrus.Fields{
		"device_id":   cfg.DeviceID,
		"device_name": cfg.DeviceName,
		"config_file": cfgPath,
	}).Info("loaded device configuration")

	plat := platform.NewLocal()
	files := fileio.NewLocal(cfg.DownloadDir)

	historyStore, historyPath, err := history.Open(dataDir)
	if err != nil {
		return fmt.Errorf("open transfer history: %w", err)
	}
	defer historyStore.Close()
	log.WithField("history_file", historyPath).Info("opened transfer history store")

	engine := socket.New()

	disc := discovery.New(engine, discovery.Config{
		SelfID:        cfg.DeviceID,
		DeviceName:    cfg.DeviceName,
		Platform:      plat.Name(),
		Version:       "1.0",
		TransferPort:  cfg.TransferPort,
		DiscoveryPort: cfg.DiscoveryPort,
	})

	autoAccept := c.Bool("auto-accept")
	var mgr *transfer.Manager
	mgr = transfer.New(engine, files, disc, cfg.DeviceID, cfg.DeviceName, func(req transfer.IncomingRequest) transfer.Decision {
		if !autoAccept {
			log.WithFields(logrus.Fields{
				"peer":      req.PeerName,
				"file_name": req.FileName,
				"file_size": req.FileSize,
			}).Warn("rejecting inbound transfer: auto-accept disabled and no interactive prompt is wired up")
			return transfer.Decision{Accept: false}
		}

		downloadDir := mgr.DefaultDownloadDir()
		name, err := files.UniqueName(downloadDir, req.FileName)
		if err != nil {
			log.WithError(err).Error("resolve unique download name")
			return transfer.Decision{Accept: false}
		}
		return transfer.Decision{Accept: true, FilePath: filepath.Join(downloadDir, name)}
	})

	if password := c.String("password"); password != "" {
		mgr.SetEncryptionPassword(password)
		mgr.SetEncryptionEnabled(true)
		cfg.EncryptionEnabled = true
	}

	if !mgr.Init() {
		return fmt.Errorf("transfer manager failed to initialize")
	}

	transferPort, err := engine.InitTCPServer(cfg.TransferPort, mgr.OnTCPData, mgr.OnTCPStatus)
	if err != nil {
		return fmt.Errorf("start transfer listener: %w", err)
	}
	cfg.TransferPort = transferPort
	log.WithField("port", transferPort).Info("transfer listener bound")

	if err := disc.Start(); err != nil {
		return fmt.Errorf("start discovery: %w", err)
	}
	log.WithField("port", disc.BoundPort()).Info("discovery announcer and sweeper running")

	stopHistoryWatch := historyStore.Watch(mgr.Events())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go logDiscoveryEvents(log, disc.Events())

	log.Info("lanxfer running, press Ctrl+C to stop")
	<-ctx.Done()
	log.Info("shutting down")

	disc.Stop()
	mgr.Shutdown()
	_ = engine.Shutdown()
	stopHistoryWatch()

	return nil
}

func logDiscoveryEvents(log *logrus.Logger, events <-chan discovery.Event) {
	for event := range events {
		switch event.Type {
		case discovery.EventPeerUpserted:
			log.WithFields(logrus.Fields{
				"peer_id":   event.Peer.ID,
				"peer_name": event.Peer.Name,
				"endpoint":  peerEndpoint(event.Peer),
			}).Info("peer discovered")
		case discovery.EventPeerRemoved:
			log.WithField("peer_id", event.Peer.ID).Info("peer no longer reachable")
		}
	}
}

func peerEndpoint(p model.PeerInfo) string {
	return p.Endpoint()
}
