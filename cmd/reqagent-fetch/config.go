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

package main

import (
	"os"
	"path"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"reqagent/internal/logging"
)

// Config is the on-disk configuration for reqagent-fetch: agent tuning
// plus the admin server it optionally exposes alongside its fetches.
type Config struct {
	Targets               []string `yaml:"targets"`
	Concurrency           int      `yaml:"concurrency"`
	MaxConnections        int      `yaml:"max_connections"`
	MaxConnectionsPerHost int      `yaml:"max_connections_per_host"`
	ConnectionCacheSize   int      `yaml:"connection_cache_size"`
	EnableMetrics         bool     `yaml:"enable_metrics"`
	AdminPort             int      `yaml:"admin_port"`
	LogPath               string   `yaml:"log_path"`
	LogLevel              string   `yaml:"log_level"`
	LogExpireDay          int      `yaml:"log_expire_day"`
}

func loadConfig(fileName string) (*Config, error) {
	file, err := os.ReadFile(fileName)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read file from %s", fileName)
	}
	cfg := &Config{Concurrency: 8, LogLevel: "info"}
	if err = yaml.Unmarshal(file, cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config from %s", fileName)
	}
	if err = cfg.validate(); err != nil {
		return nil, errors.Wrapf(err, "config validate failed")
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Concurrency <= 0 {
		return errors.New("concurrency must be positive")
	}
	return nil
}

// watchConfig reloads fileName into apply whenever it changes on disk,
// the same fsnotify.Write/Rename pattern authip.go uses to hot-reload its
// IP whitelist.
func watchConfig(fileName string, apply func(*Config)) error {
	watch, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watch.Add(path.Dir(fileName)); err != nil {
		return err
	}
	go func() {
		for {
			select {
			case ev := <-watch.Events:
				if ev.Name != fileName {
					continue
				}
				if ev.Op&fsnotify.Write == fsnotify.Write || ev.Op&fsnotify.Rename == fsnotify.Rename {
					cfg, err := loadConfig(fileName)
					if err != nil {
						logging.Errorf("reload config: %v", err)
						continue
					}
					apply(cfg)
				}
			case err := <-watch.Errors:
				logging.Errorf("config watcher: %v", err)
				return
			}
		}
	}()
	return nil
}
