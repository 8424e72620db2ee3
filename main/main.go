// Command main drives serialize/deserialize cycles for profiling. It serves
// pprof and prometheus metrics on localhost:6060 and writes a heap profile
// when done.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/rawbytedev/pdx"
	"github.com/rawbytedev/pdx/pkg/authority"
)

type order struct {
	ID       int64     `pdx:"id,identity"`
	Customer string    `pdx:"customer"`
	Items    []string  `pdx:"items"`
	Qty      []int32   `pdx:"qty"`
	Prices   []float64 `pdx:"prices"`
	Placed   time.Time `pdx:"placed"`
}

func main() {
	config := flag.String("config", "", "yaml options file")
	redisAddr := flag.String("redis", "", "redis address for the type authority; in-memory when empty")
	rounds := flag.Int("n", 10000, "serialize/deserialize rounds")
	linger := flag.Duration("linger", 5*time.Minute, "how long to keep serving pprof after the run")
	flag.Parse()

	opts := pdx.DefaultOptions()
	if *config != "" {
		var err error
		if opts, err = pdx.LoadOptions(*config); err != nil {
			log.Fatal(err)
		}
	}

	var auth authority.Authority
	if *redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: *redisAddr})
		defer client.Close()
		r, err := authority.NewRedis(authority.RedisOptions{Client: client, DistributedSystemID: opts.DistributedSystemID})
		if err != nil {
			log.Fatal(err)
		}
		auth = r
	}

	reg := prometheus.NewRegistry()
	s, err := pdx.NewSerializer(auth, pdx.WithOptions(opts), pdx.WithPrometheus(reg))
	if err != nil {
		log.Fatal(err)
	}
	defer s.Close()
	if err := s.RegisterStruct("Order", order{}); err != nil {
		log.Fatal(err)
	}

	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		log.Println(http.ListenAndServe("localhost:6060", nil))
	}()

	f, err := os.Create("mem.prof")
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	runtime.MemProfileRate = 1

	ctx := context.Background()
	o := &order{
		ID: 1, Customer: "acme",
		Items:  []string{"azerty", "hello", "world", "random"},
		Qty:    []int32{12, 10, 13, 1},
		Prices: []float64{100.5, 165.63, 153.5, 1},
		Placed: time.Now().UTC().Truncate(time.Millisecond),
	}
	start := time.Now()
	for i := 0; i < *rounds; i++ {
		o.ID = int64(i)
		data, err := s.Serialize(ctx, o)
		if err != nil {
			log.Fatal(err)
		}
		if _, err := s.Deserialize(ctx, data); err != nil {
			log.Fatal(err)
		}
	}
	log.Printf("%d rounds in %s", *rounds, time.Since(start))
	if err := pprof.WriteHeapProfile(f); err != nil {
		log.Fatal(err)
	}
	time.Sleep(*linger)
}
