package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/mahaj/samvad/pkg/api"
	"github.com/mahaj/samvad/pkg/presence"
	"github.com/mahaj/samvad/pkg/relay"
	"github.com/mahaj/samvad/pkg/snowflake"
	"github.com/mahaj/samvad/pkg/store"
	"github.com/mahaj/samvad/pkg/typing"
)

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func openStore() (store.MessageStore, error) {
	switch env("STORE_BACKEND", "pebble") {
	case "scylla":
		hosts := strings.Split(env("SCYLLA_HOSTS", "localhost:9042"), ",")
		return store.OpenScylla(hosts, env("SCYLLA_KEYSPACE", "chat"))
	default:
		return store.OpenPebble(env("DATA_DIR", "./data/messages"))
	}
}

func main() {
	// .env is optional; real deployments set the environment directly.
	godotenv.Load()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	st, err := openStore()
	if err != nil {
		log.WithError(err).Fatal("failed to open message store")
	}

	nodeID, err := strconv.ParseInt(env("NODE_ID", "1"), 10, 64)
	if err != nil {
		log.WithError(err).Fatal("invalid NODE_ID")
	}
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize snowflake node")
	}

	registry := presence.NewRegistry()
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		registry.WithMirror(redis.NewClient(&redis.Options{Addr: addr}))
		log.WithField("addr", addr).Info("presence mirror enabled")
	}

	hub := relay.NewHub(registry, typing.NewTracker(), st, node)

	var firehose *relay.Firehose
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		firehose = relay.NewFirehose(strings.Split(brokers, ","), env("KAFKA_TOPIC", "chat-messages"))
		hub.SetFirehose(firehose)
		log.WithField("brokers", brokers).Info("message firehose enabled")
	}

	r := mux.NewRouter()
	api.NewServer(st, registry).Routes(r)
	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		relay.ServeWS(hub, w, req)
	})
	r.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("Samvad chat relay is running"))
	}).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:    ":" + env("PORT", "5000"),
		Handler: r,
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	log.WithField("signal", sig.String()).Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("http shutdown error")
	}
	hub.Close()
	if firehose != nil {
		firehose.Close()
	}
	if err := st.Close(); err != nil {
		log.WithError(err).Warn("store close error")
	}
	log.Info("bye")
}
