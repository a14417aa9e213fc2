package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/bbque/pkg/resources"
)

// topologyDoc is the YAML shape of a platform description file: a flat
// list of clusters, each declaring its processing-element and memory
// capacity. Uses the same read-then-unmarshal idiom as contrib.LoadConfig,
// narrowed from a generic Kind-dispatched resource to the one shape this
// daemon needs.
type topologyDoc struct {
	Clusters []clusterSpec `yaml:"clusters"`
}

type clusterSpec struct {
	PE  uint64 `yaml:"pe"`
	Mem uint64 `yaml:"mem"`
}

// loadTopology reads a platform description file and registers one
// "pe" and one "mem" descriptor per declared cluster.
func loadTopology(path string) (*resources.Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("platform: read %s: %w", path, err)
	}

	var doc topologyDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("platform: parse %s: %w", path, err)
	}
	if len(doc.Clusters) == 0 {
		return nil, fmt.Errorf("platform: %s declares no clusters", path)
	}

	reg := resources.NewRegistry()
	for i, c := range doc.Clusters {
		if _, err := reg.Register(fmt.Sprintf("cluster%d.pe0", i), "pe", c.PE); err != nil {
			return nil, fmt.Errorf("platform: register cluster %d pe: %w", i, err)
		}
		if c.Mem > 0 {
			if _, err := reg.Register(fmt.Sprintf("cluster%d.mem0", i), "mem", c.Mem); err != nil {
				return nil, fmt.Errorf("platform: register cluster %d mem: %w", i, err)
			}
		}
	}
	return reg, nil
}
