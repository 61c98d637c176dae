// Package evaluation measures retrieval quality against golden query
// suites with ranked-list metrics (precision/recall@K, MRR, NDCG, MAP).
package evaluation

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// cutoffs are the K values every @K metric is reported at.
var cutoffs = []int{1, 3, 5, 10}

// QueryOutcome is one golden query scored against what the retriever
// actually returned, in rank order.
type QueryOutcome struct {
	QueryID   string        `json:"query_id"`
	Question  string        `json:"question"`
	Retrieved []uuid.UUID   `json:"retrieved"`
	Relevant  []uuid.UUID   `json:"relevant"`
	Latency   time.Duration `json:"latency"`
}

// Report aggregates metrics over a set of query outcomes. All @K values
// are means across queries.
type Report struct {
	PrecisionAtK map[int]float64 `json:"precision_at_k"`
	RecallAtK    map[int]float64 `json:"recall_at_k"`
	HitRateAtK   map[int]float64 `json:"hit_rate_at_k"`

	MRR      float64 `json:"mrr"`
	NDCGAt5  float64 `json:"ndcg_at_5"`
	NDCGAt10 float64 `json:"ndcg_at_10"`
	MAP      float64 `json:"map"`

	MeanLatencyMs   float64 `json:"mean_latency_ms"`
	MedianLatencyMs float64 `json:"median_latency_ms"`
	P95LatencyMs    float64 `json:"p95_latency_ms"`

	TotalQueries    int `json:"total_queries"`
	QueriesWithHits int `json:"queries_with_hits"`
}

// Summarize computes a Report from scored outcomes. An empty input
// yields a zero report rather than NaNs.
func Summarize(outcomes []QueryOutcome) Report {
	report := Report{
		PrecisionAtK: make(map[int]float64, len(cutoffs)),
		RecallAtK:    make(map[int]float64, len(cutoffs)),
		HitRateAtK:   make(map[int]float64, len(cutoffs)),
		TotalQueries: len(outcomes),
	}
	if len(outcomes) == 0 {
		return report
	}

	precisionSum := make(map[int]float64, len(cutoffs))
	recallSum := make(map[int]float64, len(cutoffs))
	hitSum := make(map[int]float64, len(cutoffs))
	var mrrSum, ndcg5Sum, ndcg10Sum, apSum float64
	latencies := make([]float64, 0, len(outcomes))

	for _, outcome := range outcomes {
		relevant := make(map[uuid.UUID]bool, len(outcome.Relevant))
		for _, id := range outcome.Relevant {
			relevant[id] = true
		}

		hit := false
		for _, k := range cutoffs {
			precisionSum[k] += precisionAt(outcome.Retrieved, relevant, k)
			recallSum[k] += recallAt(outcome.Retrieved, relevant, k)
			h := hitAt(outcome.Retrieved, relevant, k)
			hitSum[k] += h
			hit = hit || h > 0
		}
		if hit {
			report.QueriesWithHits++
		}

		mrrSum += reciprocalRank(outcome.Retrieved, relevant)
		ndcg5Sum += ndcgAt(outcome.Retrieved, relevant, 5)
		ndcg10Sum += ndcgAt(outcome.Retrieved, relevant, 10)
		apSum += averagePrecision(outcome.Retrieved, relevant)

		latencies = append(latencies, float64(outcome.Latency.Milliseconds()))
	}

	n := float64(len(outcomes))
	for _, k := range cutoffs {
		report.PrecisionAtK[k] = precisionSum[k] / n
		report.RecallAtK[k] = recallSum[k] / n
		report.HitRateAtK[k] = hitSum[k] / n
	}
	report.MRR = mrrSum / n
	report.NDCGAt5 = ndcg5Sum / n
	report.NDCGAt10 = ndcg10Sum / n
	report.MAP = apSum / n

	report.MeanLatencyMs = mean(latencies)
	report.MedianLatencyMs = percentile(latencies, 50)
	report.P95LatencyMs = percentile(latencies, 95)

	return report
}

func precisionAt(retrieved []uuid.UUID, relevant map[uuid.UUID]bool, k int) float64 {
	if k <= 0 {
		return 0
	}
	count := 0
	for i := 0; i < k && i < len(retrieved); i++ {
		if relevant[retrieved[i]] {
			count++
		}
	}
	return float64(count) / float64(k)
}

func recallAt(retrieved []uuid.UUID, relevant map[uuid.UUID]bool, k int) float64 {
	if len(relevant) == 0 {
		return 0
	}
	count := 0
	for i := 0; i < k && i < len(retrieved); i++ {
		if relevant[retrieved[i]] {
			count++
		}
	}
	return float64(count) / float64(len(relevant))
}

func hitAt(retrieved []uuid.UUID, relevant map[uuid.UUID]bool, k int) float64 {
	for i := 0; i < k && i < len(retrieved); i++ {
		if relevant[retrieved[i]] {
			return 1
		}
	}
	return 0
}

func reciprocalRank(retrieved []uuid.UUID, relevant map[uuid.UUID]bool) float64 {
	for i, id := range retrieved {
		if relevant[id] {
			return 1 / float64(i+1)
		}
	}
	return 0
}

// ndcgAt uses binary relevance gains; the ideal DCG places every
// relevant item at the top of the list.
func ndcgAt(retrieved []uuid.UUID, relevant map[uuid.UUID]bool, k int) float64 {
	if len(relevant) == 0 {
		return 0
	}

	var dcg float64
	for i := 0; i < k && i < len(retrieved); i++ {
		if relevant[retrieved[i]] {
			dcg += 1 / math.Log2(float64(i)+2)
		}
	}

	var idcg float64
	ideal := len(relevant)
	if ideal > k {
		ideal = k
	}
	for i := 0; i < ideal; i++ {
		idcg += 1 / math.Log2(float64(i)+2)
	}
	if idcg == 0 {
		return 0
	}
	return dcg / idcg
}

func averagePrecision(retrieved []uuid.UUID, relevant map[uuid.UUID]bool) float64 {
	if len(relevant) == 0 {
		return 0
	}
	var sum float64
	hits := 0
	for i, id := range retrieved {
		if relevant[id] {
			hits++
			sum += float64(hits) / float64(i+1)
		}
	}
	return sum / float64(len(relevant))
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// percentile uses nearest-rank on a sorted copy.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
