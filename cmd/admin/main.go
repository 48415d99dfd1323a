package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"gigchat/backend/internal/api/handler"
	"gigchat/backend/internal/app"
	"gigchat/backend/internal/config"
	"gigchat/backend/internal/gate"
	"gigchat/backend/internal/queue"
	"gigchat/backend/internal/resolver"
	"gigchat/backend/internal/storage"

	"github.com/rs/zerolog"
)

const usage = `Usage: admin <command> [args]

Commands:
  recharge <room_id>           open the room for another recharge window
  resolve <user_id> <user_id>  print the pair's room, creating it if needed
  transcript <room_id>         print the room's transcript in order
  dead-letters [n]             list the n most recent dead-lettered jobs
  token <user_id>              issue an API token for a user`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	cfg := config.Load()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(zerolog.WarnLevel)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	command, args := os.Args[1], os.Args[2:]
	if command == "token" {
		exitOnErr(issueToken(cfg, args))
		return
	}

	db, err := app.OpenDatabase(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	s := storage.NewStorageService(db, nil)

	switch command {
	case "recharge":
		requireArgs(args, 1, "admin recharge <room_id>")
		expiresAt, err := gate.New(s, cfg.RechargeWindow, logger).Recharge(ctx, args[0])
		exitOnErr(err)
		fmt.Printf("Room %s is open until %s.\n", args[0], expiresAt.Format(time.RFC3339))

	case "resolve":
		requireArgs(args, 2, "admin resolve <user_id> <user_id>")
		roomID, err := resolver.NewService(s, logger).Resolve(ctx, args[0], args[1])
		exitOnErr(err)
		fmt.Println(roomID)

	case "transcript":
		requireArgs(args, 1, "admin transcript <room_id>")
		room, err := s.GetRoomByID(ctx, args[0])
		exitOnErr(err)
		entries, err := room.Entries()
		exitOnErr(err)
		fmt.Printf("Room %s (%s, %s), access %s\n", room.RoomID, room.UserAID, room.UserBID, gate.Evaluate(room.AccessState(), time.Now()))
		for _, e := range entries.Sorted() {
			fmt.Printf("%s  %-36s  %s\n", e.Timestamp, e.SenderID, e.Text)
		}

	case "dead-letters":
		n := 20
		if len(args) > 0 {
			n, err = strconv.Atoi(args[0])
			if err != nil || n < 1 {
				fmt.Println("Invalid count. Please provide a positive integer.")
				os.Exit(1)
			}
		}
		exitOnErr(listDeadLetters(ctx, cfg, logger, n))

	default:
		fmt.Println("Unknown command")
		fmt.Println(usage)
		os.Exit(1)
	}
}

func issueToken(cfg *config.Config, args []string) error {
	requireArgs(args, 1, "admin token <user_id>")
	token, err := handler.NewTokenManager(cfg.JWTSecret, config.TokenTTL, config.TokenIssuer).Generate(args[0])
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func listDeadLetters(ctx context.Context, cfg *config.Config, logger zerolog.Logger, n int) error {
	rdb, err := app.OpenRedis(ctx, cfg)
	if err != nil {
		return err
	}
	defer rdb.Close()

	q, err := queue.NewRedisQueue(ctx, rdb, logger)
	if err != nil {
		return err
	}
	dead, err := q.DeadLetters(ctx, n)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(dead)
}

func requireArgs(args []string, n int, use string) {
	if len(args) != n {
		fmt.Println("Usage: " + use)
		os.Exit(1)
	}
}

func exitOnErr(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
