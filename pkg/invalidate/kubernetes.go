// MIT License
//
// Copyright (c) 2023 kache.io
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package invalidate

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	v1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// kubernetesConnection discovers peer replicas through a Kubernetes
// Service's Endpoints and broadcasts invalidations to their remote-apply
// HTTP route.
type kubernetesConnection struct {
	clientset kubernetes.Interface
	broadcast *requestQueue

	namespace string
	service   string
}

// NewKubernetesConnection creates a Connection backed by the Kubernetes
// API server, discovering peers via the Endpoints of namespace/service.
func NewKubernetesConnection(namespace string, service string) (Connection, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := filepath.Join(os.Getenv("HOME"), ".kube", "config")
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("invalidate: failed to load kubernetes config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("invalidate: failed to create kubernetes client: %w", err)
	}

	q := newRequestQueue(requestQueueOpts{
		size:       30,
		maxWorkers: 6,
		maxRetries: 5,
		backoff:    7 * time.Second,
	})

	return &kubernetesConnection{
		clientset: clientset,
		broadcast: q,
		namespace: namespace,
		service:   service,
	}, nil
}

// Close stops the broadcast queue.
func (c *kubernetesConnection) Close() {
	c.broadcast.stop()
}

// Endpoints returns the addresses of the Service's endpoints exposing portName.
func (c *kubernetesConnection) Endpoints(portName string) []Endpoint {
	eps, err := c.clientset.CoreV1().Endpoints(c.namespace).
		Get(context.Background(), c.service, v1.GetOptions{})
	if err != nil {
		log.Error().Err(err).Msg("invalidate: error getting kubernetes endpoints")
		return nil
	}

	var (
		port      int32
		endpoints []Endpoint
	)

	for _, subset := range eps.Subsets {
		port = 0
		for _, p := range subset.Ports {
			if p.Name != portName {
				continue
			}
			port = p.Port
		}
		if port == 0 {
			continue
		}
		for _, addr := range subset.Addresses {
			name := ""
			if addr.TargetRef != nil {
				name = addr.TargetRef.Name
			}
			endpoints = append(endpoints, Endpoint{
				Name: name,
				Host: addr.IP,
				Port: int(port),
			})
		}
	}

	return endpoints
}

// Broadcast asks every peer behind portName to invalidate id.
func (c *kubernetesConnection) Broadcast(id string, portName string) {
	endpoints := c.Endpoints(portName)
	log.Debug().Str("id", id).Interface("endpoints", endpoints).Msg("invalidate: broadcasting")

	for _, ep := range endpoints {
		url := fmt.Sprintf("http://%s:%d/api/cache/keys/remote?id=%s", ep.Host, ep.Port, id)
		req, err := http.NewRequest(http.MethodDelete, url, nil)
		if err != nil {
			log.Error().Err(err).Str("url", url).Msg("invalidate: error building broadcast request")
			continue
		}
		req.Header.Set("X-FreshCache-Cluster", "Broadcast")

		select {
		case c.broadcast.queue <- message{request: req}:
		default:
			log.Warn().Str("url", url).Msg("invalidate: broadcast queue full, dropping")
		}
	}
}
