// Copyright (c) 2022 The reqagent Authors
//
// Licensed under the Apache License, Version 2.0 (the "License"): you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations
// under the License.

// Command reqagent-fetch drives a reqagent.Client against a configured
// list of targets concurrently, reporting per-target outcomes and
// optionally exposing an admin server with metrics and pprof.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"path"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"

	reqagent "reqagent"
	"reqagent/agent"
	"reqagent/internal/logging"
)

var (
	configPath      = flag.String("p", "conf", "Config file path")
	basicConfigFile = flag.String("c", "fetch.yaml", "Basic config filename")
	version         = flag.Bool("v", false, "Show version")
	help            = flag.Bool("h", false, "Show usage info")
)

var (
	CommitSHA string
	Tag       string
	BuildTime string
)

func init() {
	if len(Tag) < 1 {
		Tag = "unknown"
	}
	if len(CommitSHA) < 1 {
		CommitSHA = "unknown"
	}
	if len(BuildTime) < 1 {
		BuildTime = "unknown"
	}
}

const banner string = `
________________________________________________________
___  __ \___________ _______ _________________________ /_
__  /_/ /  _ \_  __ '/_  __ '/_  ___/  _ \_  __ '/  _ \  __/
_  _  // /_/ /  /_/ /_  /_/ /_  /   /  __/  / / //  __/ /_
/_/ |_|\___\_\\__, / _\__, / /_/    \___//_/ /_/ \___/\__/
             /____/  /____/
`

func parseCli() {
	flag.Parse()
	if *version {
		fmt.Printf("version: %s\ncommit: %s\ntime: %s\n", Tag, CommitSHA, BuildTime)
		os.Exit(0)
	}
	if *help {
		flag.Usage()
		os.Exit(0)
	}
}

func main() {
	parseCli()

	cfg, err := loadConfig(path.Join(*configPath, *basicConfigFile))
	if err != nil {
		logging.Errorf("parse config file err:%v", err)
		return
	}

	if err = logging.Init(
		logging.WithPath(cfg.LogPath),
		logging.WithExpireDay(cfg.LogExpireDay),
	); err != nil {
		logging.Errorf("failed to initialize logger, err: %s", err)
		return
	}

	fmt.Print(banner)
	fmt.Printf("reqagent-fetch version: %s\n", Tag)
	fmt.Printf("reqagent-fetch started with pid: %d\n", syscall.Getpid())
	logging.Infof("reqagent-fetch started with pid: %d, version: %s", syscall.Getpid(), Tag)

	if err := watchConfig(path.Join(*configPath, *basicConfigFile), func(next *Config) {
		logging.Infof("config reloaded: %d targets, concurrency=%d", len(next.Targets), next.Concurrency)
	}); err != nil {
		logging.Errorf("failed to watch config: %s", err)
	}

	if cfg.AdminPort > 0 {
		addr := fmt.Sprintf(":%d", cfg.AdminPort)
		gin.SetMode(gin.ReleaseMode)
		ginSrv := gin.New()
		initAdmin(ginSrv)
		httpSrv := &http.Server{Handler: ginSrv, Addr: addr}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil {
				logging.Errorf("failed to start admin server, err: %s", err)
			}
		}()
	}

	client, err := reqagent.NewClient(
		agent.WithName("reqagent-fetch"),
		agent.WithMaxConnections(cfg.MaxConnections),
		agent.WithMaxConnectionsPerHost(cfg.MaxConnectionsPerHost),
		agent.WithConnectionCacheSize(cfg.ConnectionCacheSize),
		agent.WithMetrics(cfg.EnableMetrics),
	)
	if err != nil {
		logging.Errorf("failed to build client: %s", err)
		return
	}
	defer client.Close()

	fetchAll(client, cfg.Targets, cfg.Concurrency)

	logging.Infof("reqagent-fetch shutdown, pid: %d", syscall.Getpid())
}

// fetchAll issues a GET against every target, at most concurrency at a
// time, and prints a one-line outcome per target.
func fetchAll(client *reqagent.Client, targets []string, concurrency int) {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for _, target := range targets {
		target := target
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			fetchOne(client, target)
		}()
	}
	wg.Wait()
}

func fetchOne(client *reqagent.Client, target string) {
	resp, err := client.Get(target)
	if err != nil {
		fmt.Printf("%-60s  error: %v\n", target, err)
		return
	}
	body, err := resp.ReadAll()
	if err != nil {
		fmt.Printf("%-60s  status=%d  read error: %v\n", target, resp.StatusCode, err)
		return
	}
	fmt.Printf("%-60s  status=%d  bytes=%d\n", target, resp.StatusCode, len(body))
}
