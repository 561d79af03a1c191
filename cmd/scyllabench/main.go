// Command scyllabench drives a simple insert/select workload against a
// cluster, for ad hoc latency/throughput measurement during development.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/profile"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	scylla "github.com/scylladb/scylla-go-driver"
)

const (
	insertStmt = "INSERT INTO benchks.benchtab (pk, v1, v2) VALUES (?, ?, ?)"
	selectStmt = "SELECT v1, v2 FROM benchks.benchtab WHERE pk = ?"
	samples    = 20_000
)

type workload int

const (
	inserts workload = iota
	selects
	mixed
)

func (w workload) String() string {
	switch w {
	case inserts:
		return "inserts"
	case selects:
		return "selects"
	default:
		return "mixed"
	}
}

type config struct {
	hosts       string
	concurrency int64
	tasks       int64
	batchSize   int64
	workload    string
	dontPrepare bool
	profileCPU  bool
	profileMem  bool
	metricsAddr string
}

func readConfig() config {
	var c config
	flag.StringVar(&c.hosts, "hosts", "127.0.0.1", "comma-separated contact points")
	flag.Int64Var(&c.concurrency, "concurrency", 256, "number of worker goroutines")
	flag.Int64Var(&c.tasks, "tasks", 1_000_000, "number of rows to process")
	flag.Int64Var(&c.batchSize, "batch-size", 1000, "rows claimed per worker iteration")
	flag.StringVar(&c.workload, "workload", "mixed", "inserts, selects or mixed")
	flag.BoolVar(&c.dontPrepare, "dont-prepare", false, "skip keyspace/table setup")
	flag.BoolVar(&c.profileCPU, "profile-cpu", false, "run under CPU profiling")
	flag.BoolVar(&c.profileMem, "profile-mem", false, "run under memory profiling")
	flag.StringVar(&c.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (empty disables)")
	flag.Parse()
	return c
}

func main() {
	cfg := readConfig()
	log.Printf("benchmark configuration: %#v", cfg)

	if cfg.profileCPU && cfg.profileMem {
		log.Fatal("select one profile type")
	}
	if cfg.profileCPU {
		log.Println("running with CPU profiling")
		defer profile.Start(profile.CPUProfile).Stop()
	}
	if cfg.profileMem {
		log.Println("running with memory profiling")
		defer profile.Start(profile.MemProfile).Stop()
	}
	if cfg.metricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			log.Printf("serving metrics on %s/metrics", cfg.metricsAddr)
			if err := http.ListenAndServe(cfg.metricsAddr, nil); err != nil {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	ctx := context.Background()
	sessionCfg := scylla.DefaultSessionConfig("", splitHosts(cfg.hosts)...)
	sessionCfg.Policy = scylla.NewSimpleTokenAwarePolicy(1)
	session, err := scylla.NewSession(ctx, sessionCfg)
	if err != nil {
		log.Fatalf("connecting: %v", err)
	}
	defer session.Close()

	if !cfg.dontPrepare {
		prepareKeyspaceAndTable(ctx, session)
	}

	w := parseWorkload(cfg.workload)
	if w == selects && !cfg.dontPrepare {
		prepareSelects(ctx, session, cfg)
	}

	var wg sync.WaitGroup
	var nextBatchStart int64

	selectLatencies := make(chan time.Duration, 2*samples)
	insertLatencies := make(chan time.Duration, 2*samples)

	log.Println("starting the benchmark")
	start := time.Now()

	for i := int64(0); i < cfg.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			// Each worker prepares its own handle so bound values never
			// share a backing array across goroutines.
			iq, err := session.Prepare(ctx, insertStmt)
			if err != nil {
				log.Fatalf("preparing insert: %v", err)
			}
			iq.SetIdempotent(true)
			sq, err := session.Prepare(ctx, selectStmt)
			if err != nil {
				log.Fatalf("preparing select: %v", err)
			}
			sq.SetIdempotent(true)

			for {
				batchStart := atomic.AddInt64(&nextBatchStart, cfg.batchSize)
				if batchStart >= cfg.tasks {
					return
				}
				batchEnd := min64(batchStart+cfg.batchSize, cfg.tasks)

				for pk := batchStart; pk < batchEnd; pk++ {
					sample := rand.Int63n(cfg.tasks) < samples

					if w == inserts || w == mixed {
						runInsert(ctx, &iq, pk, sample, insertLatencies)
					}
					if w == selects || w == mixed {
						runSelect(ctx, &sq, pk, sample, selectLatencies)
					}
				}
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	fmt.Printf("time %d\n", elapsed.Milliseconds())
	printLatencies("insert", insertLatencies)
	printLatencies("select", selectLatencies)
	log.Printf("finished in %d ms", elapsed.Milliseconds())
}

func runInsert(ctx context.Context, q *scylla.Query, pk int64, sample bool, out chan<- time.Duration) {
	q.BindInt64(0, pk)
	q.BindInt64(1, 2*pk)
	q.BindInt64(2, 3*pk)

	start := time.Now()
	if _, err := q.Exec(ctx); err != nil {
		log.Fatalf("insert pk=%d: %v", pk, err)
	}
	if sample {
		out <- time.Since(start)
	}
}

func runSelect(ctx context.Context, q *scylla.Query, pk int64, sample bool, out chan<- time.Duration) {
	q.BindInt64(0, pk)

	start := time.Now()
	res, err := q.Exec(ctx)
	if err != nil {
		log.Fatalf("select pk=%d: %v", pk, err)
	}
	if len(res.Rows) != 1 {
		log.Fatalf("select pk=%d: expected 1 row, got %d", pk, len(res.Rows))
	}
	if sample {
		out <- time.Since(start)
	}
}

func prepareKeyspaceAndTable(ctx context.Context, session *scylla.Session) {
	mustExec(ctx, session, "DROP KEYSPACE IF EXISTS benchks")
	mustExec(ctx, session, "CREATE KEYSPACE IF NOT EXISTS benchks WITH REPLICATION = "+
		"{'class': 'SimpleStrategy', 'replication_factor': 1}")
	mustExec(ctx, session, "CREATE TABLE IF NOT EXISTS benchks.benchtab "+
		"(pk bigint PRIMARY KEY, v1 bigint, v2 bigint)")
}

func mustExec(ctx context.Context, session *scylla.Session, stmt string) {
	q := session.Query(stmt)
	if _, err := q.Exec(ctx); err != nil {
		log.Fatalf("exec %q: %v", stmt, err)
	}
}

func prepareSelects(ctx context.Context, session *scylla.Session, cfg config) {
	log.Println("preparing a selects benchmark (inserting values)")

	var wg sync.WaitGroup
	var nextBatchStart int64
	workers := max64(1024, cfg.concurrency)

	for i := int64(0); i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q, err := session.Prepare(ctx, insertStmt)
			if err != nil {
				log.Fatalf("preparing insert: %v", err)
			}
			q.SetIdempotent(true)
			for {
				batchStart := atomic.AddInt64(&nextBatchStart, cfg.batchSize)
				if batchStart >= cfg.tasks {
					return
				}
				batchEnd := min64(batchStart+cfg.batchSize, cfg.tasks)
				for pk := batchStart; pk < batchEnd; pk++ {
					q.BindInt64(0, pk)
					q.BindInt64(1, 2*pk)
					q.BindInt64(2, 3*pk)
					if _, err := q.Exec(ctx); err != nil {
						log.Fatalf("insert pk=%d: %v", pk, err)
					}
				}
			}
		}()
	}

	wg.Wait()
}

func printLatencies(name string, ch chan time.Duration) {
	n := len(ch)
	for i := 0; i < n; i++ {
		fmt.Printf("%s %d\n", name, (<-ch).Nanoseconds())
	}
}

func parseWorkload(s string) workload {
	switch s {
	case "inserts":
		return inserts
	case "selects":
		return selects
	default:
		return mixed
	}
}

func splitHosts(s string) []string {
	var hosts []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				hosts = append(hosts, s[start:i])
			}
			start = i + 1
		}
	}
	return hosts
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
