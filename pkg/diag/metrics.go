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

package diag

import "github.com/prometheus/client_golang/prometheus"

// MetricsSubscriber counts published events by cache name and outcome. It
// registers itself with reg and returns a Subscriber ready to pass to
// Channel.Subscribe.
func MetricsSubscriber(reg prometheus.Registerer) Subscriber {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "freshcache",
		Name:      "outcomes_total",
		Help:      "Total number of wrapper requests by cache name and outcome.",
	}, []string{"cache", "outcome"})
	reg.MustRegister(counter)

	return func(evt Event) {
		name := evt.CacheName
		if name == "" {
			name = "default"
		}
		counter.WithLabelValues(name, string(evt.Outcome)).Inc()
	}
}
