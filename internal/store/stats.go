// Copyright 2020 Acnodal Inc.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "napi"
const statsSubsystem = "store"

var (
	bucketRecords = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: statsSubsystem,
		Name:      "bucket_records",
		Help:      "Number of records currently held in a bucket",
	}, []string{"bucket"})

	batchCommits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: statsSubsystem,
		Name:      "batch_commits_total",
		Help:      "Number of Batch calls, partitioned by outcome",
	}, []string{"outcome"})

	etagConflicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: statsSubsystem,
		Name:      "etag_conflicts_total",
		Help:      "Number of etag conflicts surfaced from Put/Delete/Batch, partitioned by bucket",
	}, []string{"bucket"})

	gapSearches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: statsSubsystem,
		Name:      "gap_searches_total",
		Help:      "Number of GapSearch calls, partitioned by whether a gap was found",
	}, []string{"found"})
)

func init() {
	prometheus.MustRegister(bucketRecords)
	prometheus.MustRegister(batchCommits)
	prometheus.MustRegister(etagConflicts)
	prometheus.MustRegister(gapSearches)
}

func recordEtagConflict(bucket string) {
	etagConflicts.WithLabelValues(bucket).Inc()
}

func recordBatchOutcome(ok bool) {
	outcome := "conflict"
	if ok {
		outcome = "committed"
	}
	batchCommits.WithLabelValues(outcome).Inc()
}

func recordGapSearch(found bool) {
	label := "miss"
	if found {
		label = "hit"
	}
	gapSearches.WithLabelValues(label).Inc()
}

func recordBucketSize(bucket string, n int) {
	bucketRecords.WithLabelValues(bucket).Set(float64(n))
}
