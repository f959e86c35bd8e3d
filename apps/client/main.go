package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/mahaj/samvad/pkg/client"
)

// lineHeight is the flat row measure for the terminal renderer; the
// scroll-anchor delta from a history prepend is reported in lines.
func lineHeight(e client.Entry) int {
	h := 1
	if e.Msg.Attachment != "" {
		h++
	}
	return h
}

func main() {
	serverAddr := flag.String("addr", "http://localhost:5000", "relay server address")
	username := flag.String("user", "", "display name (a guest name is generated if empty)")
	flag.Parse()

	name := *username
	if name == "" {
		// The server never substitutes a name; the client is
		// responsible for inventing one.
		name = fmt.Sprintf("guest-%d", time.Now().UnixMilli()%100000)
	}

	log.Printf("Logging in as %s...", name)
	token, err := client.Login(context.Background(), *serverAddr, name)
	if err != nil {
		log.Fatal("login failed: ", err)
	}

	engine := client.NewEngine(name)
	wsURL := "ws" + strings.TrimPrefix(*serverAddr, "http") + "/ws"

	conn, err := client.Dial(wsURL, token, engine, func(up bool) {
		if up {
			fmt.Print("\r[connected]\n> ")
		} else {
			fmt.Print("\r[disconnected]\n> ")
		}
	})
	if err != nil {
		log.Fatal("dial: ", err)
	}

	history := client.NewHistoryClient(*serverAddr)
	page := 1
	if msgs, err := history.Page(context.Background(), page, 50); err == nil {
		engine.PrependHistory(msgs, lineHeight)
	} else {
		log.Printf("failed to load history: %v", err)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	// Render loop: print rows as they land in the engine's timeline and
	// mark newly visible messages read. Printing to the terminal is the
	// viewport here.
	go func() {
		rendered := make(map[string]bool)
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			for _, e := range engine.Messages() {
				k := entryKey(e)
				if rendered[k] {
					continue
				}
				rendered[k] = true
				render(e)
				if !e.System && e.Confirmed {
					engine.MarkVisible(e.Msg.ID)
				}
			}
		}
	}()

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			switch {
			case text == "":
			case text == "/quit":
				interrupt <- os.Interrupt
				return
			case text == "/typing":
				conn.Typing(true)
				time.AfterFunc(3*time.Second, func() { conn.Typing(false) })
			case text == "/users":
				for _, u := range engine.Users() {
					fmt.Printf("  %s (%s), unread: %d\n", u.Username, u.ID, engine.Unread(u.ID))
				}
			case text == "/older":
				page++
				msgs, err := history.Page(context.Background(), page, 25)
				if err != nil {
					log.Printf("history: %v", err)
					page--
					break
				}
				added, delta := engine.PrependHistory(msgs, lineHeight)
				fmt.Printf("loaded %d older messages (scroll anchor +%d lines)\n", added, delta)
			case strings.HasPrefix(text, "/dm "):
				rest := strings.SplitN(strings.TrimPrefix(text, "/dm "), " ", 2)
				if len(rest) != 2 {
					fmt.Println("usage: /dm <username> <message>")
					break
				}
				to := ""
				for _, u := range engine.Users() {
					if u.Username == rest[0] {
						to = u.ID
						break
					}
				}
				if to == "" {
					fmt.Printf("no such user: %s\n", rest[0])
					break
				}
				engine.SetFocus(to)
				conn.SendPrivate(to, rest[1])
			default:
				if _, err := conn.SendChat(text, "", ""); err != nil {
					log.Printf("send: %v", err)
				}
			}
			fmt.Print("> ")
		}
	}()

	<-interrupt
	if conn.Logout() {
		log.Println("logged out")
	} else {
		log.Println("logout not acknowledged, leaving anyway")
	}
}

func entryKey(e client.Entry) string {
	if e.System {
		return "sys:" + e.Msg.Timestamp.String() + e.Msg.Body
	}
	if e.TempID != "" {
		return "tmp:" + e.TempID
	}
	return fmt.Sprintf("id:%d", e.Msg.ID)
}

func render(e client.Entry) {
	if e.System {
		fmt.Printf("\r-- %s --\n> ", e.Msg.Body)
		return
	}
	status := ""
	if e.Delivered {
		status = " ✓"
	}
	if len(e.Msg.ReadBy) > 0 {
		status = " ✓✓"
	}
	private := ""
	if e.Msg.IsPrivate {
		private = " (private)"
	}
	fmt.Printf("\r%s%s: %s%s\n> ", e.Msg.Sender, private, e.Msg.Body, status)
}
