package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lra/nelson.cli/config"
	"github.com/lra/nelson.cli/global"
	"github.com/lra/nelson.cli/heart"
	"github.com/lra/nelson.cli/iriclient"
	"github.com/lra/nelson.cli/metrics"
	"github.com/lra/nelson.cli/node"
	"github.com/lra/nelson.cli/peerlink"
	"github.com/lra/nelson.cli/peerlist"
	"github.com/lra/nelson.cli/statusapi"
)

func selfHostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return h
}

func main() {
	configFile := flag.String("config", "", "path to nelson config file (default: .nelson.yaml in . or $HOME)")
	flag.Parse()

	cfg, err := config.Read(*configFile)
	if err != nil {
		panic(err)
	}

	env := global.NewFromConfig()
	defer env.Log().Sync()

	list, err := peerlist.New(env, peerlist.Config{
		DataPath:  cfg.DataPath,
		Temporary: cfg.Temporary,
		IsMaster:  cfg.IsMaster,
		MultiPort: cfg.MultiPort,
	})
	env.AssertNoError(err, "peerlist")

	if err := list.Load(cfg.DefaultPeers); err != nil {
		env.AssertNoError(err, "peerlist.Load")
	}

	iri := iriclient.New(env, iriclient.Config{
		Hostname: cfg.IRIHostname,
		Port:     cfg.IRIPort,
	})

	met := metrics.New(prometheus.DefaultRegisterer)

	n, err := node.New(env, node.Config{
		ListenPort:      cfg.Port,
		TargetLinks:     cfg.TargetLinks,
		GossipSize:      cfg.GossipSize,
		CycleEvictFrac:  cfg.CycleEvictFrac,
		MaxDynamicPeers: cfg.MaxDynamicPeers,
		Self: peerlink.Identity{
			Hostname: selfHostname(),
			Port:     cfg.Port,
			TCPPort:  cfg.TCPPort,
			UDPPort:  cfg.UDPPort,
		},
		Heart: heart.Config{
			BeatInterval:  cfg.BeatInterval,
			CycleInterval: cfg.CycleInterval,
			EpochInterval: cfg.EpochInterval,
		},
	}, list, iri, met)
	env.AssertNoError(err, "node.New")

	api := statusapi.New(cfg.APIHostname, cfg.APIPort, n)
	go func() {
		if err := api.ListenAndServe(); err != nil {
			env.Log().Warnf("[statusapi] stopped: %v", err)
		}
	}()

	if err := n.Run(env.Ctx()); err != nil {
		env.AssertNoError(err, "node.Run")
	}

	killChan := make(chan os.Signal, 1)
	signal.Notify(killChan, syscall.SIGINT, syscall.SIGTERM)
	<-killChan

	n.Stop()
	_ = api.Close()
	env.Stop()
	env.MustWaitAllWorkProcessesStop(5 * time.Second)
	env.Log().Infof("Hasta la vista, baby! I'll be back")
}
