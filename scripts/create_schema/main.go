// Creates the chat keyspace and tables for the scylla store backend.
package main

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/gocql/gocql"
)

func main() {
	hostsStr := os.Getenv("SCYLLA_HOSTS")
	if hostsStr == "" {
		hostsStr = "localhost:9042"
	}
	hosts := strings.Split(hostsStr, ",")

	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = "system"
	cluster.Timeout = 5 * time.Second
	session, err := cluster.CreateSession()
	if err != nil {
		log.Fatalf("Failed to connect to cluster: %v", err)
	}
	defer session.Close()

	err = session.Query(`CREATE KEYSPACE IF NOT EXISTS chat WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`).Exec()
	if err != nil {
		log.Fatalf("Failed to create keyspace: %v", err)
	}

	err = session.Query(`CREATE TABLE IF NOT EXISTS chat.messages (
		room text,
		id bigint,
		sender text,
		sender_id text,
		body text,
		attachment text,
		ts timestamp,
		PRIMARY KEY (room, id)
	) WITH CLUSTERING ORDER BY (id ASC)`).Exec()
	if err != nil {
		log.Fatalf("Failed to create messages table: %v", err)
	}

	err = session.Query(`CREATE TABLE IF NOT EXISTS chat.read_receipts (
		message_id bigint,
		reader_id text,
		reader text,
		read_at timestamp,
		PRIMARY KEY (message_id, reader_id)
	)`).Exec()
	if err != nil {
		log.Fatalf("Failed to create read_receipts table: %v", err)
	}

	log.Println("Schema created")
}
