// Command chatctl seeds and administers the tables the hub reads but does not
// own: sessions and conversations. It stands in for the credential and
// conversation services during development.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"chathub/internal/auth"
	"chathub/internal/config"
	"chathub/internal/database"
	"chathub/pkg/types"
)

const usage = `usage: chatctl [-config file] <command> [flags]

commands:
  create-session       -user U [-ttl 168h] [-agent A]
  revoke-session       -id S
  create-conversation  -type dm|group -participants a,b [-id C]
  issue-token          -user U -session S [-ttl 15m]
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	global := flag.NewFlagSet("chatctl", flag.ContinueOnError)
	configPath := global.String("config", "", "path to a YAML config file")
	global.Usage = func() { fmt.Fprint(global.Output(), usage) }
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		return errors.New(strings.TrimSpace(usage))
	}

	cfg, err := config.LoadConfigWithPrecedence(*configPath)
	if err != nil {
		return err
	}

	command, rest := global.Arg(0), global.Args()[1:]
	if command == "issue-token" {
		return issueToken(cfg, rest, out)
	}

	store, err := database.NewManager(cfg.Database, zap.NewNop())
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch command {
	case "create-session":
		return createSession(ctx, cfg, store, rest, out)
	case "revoke-session":
		return revokeSession(ctx, store, rest, out)
	case "create-conversation":
		return createConversation(ctx, store, rest, out)
	default:
		return fmt.Errorf("unknown command %q\n%s", command, usage)
	}
}

// createSession stores a session with a bcrypt-hashed refresh credential and
// prints an access token bound to it
func createSession(ctx context.Context, cfg *config.Config, store *database.Manager, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("create-session", flag.ContinueOnError)
	userID := fs.String("user", "", "user id")
	ttl := fs.Duration("ttl", 7*24*time.Hour, "session lifetime")
	agent := fs.String("agent", "chatctl", "user agent recorded on the session")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !types.IsValidID(*userID) {
		return fmt.Errorf("invalid -user %q", *userID)
	}

	credential := make([]byte, 32)
	if _, err := rand.Read(credential); err != nil {
		return fmt.Errorf("generate credential: %w", err)
	}
	refreshToken := hex.EncodeToString(credential)
	hash, err := bcrypt.GenerateFromPassword([]byte(refreshToken), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash credential: %w", err)
	}

	now := time.Now().UTC()
	session := &types.Session{
		ID:             uuid.NewString(),
		UserID:         *userID,
		CredentialHash: string(hash),
		UserAgent:      *agent,
		CreatedAt:      now,
		ExpiresAt:      now.Add(*ttl),
	}
	if err := store.CreateSession(ctx, session); err != nil {
		return err
	}

	token, err := auth.NewIssuer([]byte(cfg.Auth.Secret)).Issue(
		types.Identity{UserID: session.UserID, SessionID: session.ID}, cfg.Auth.AccessTokenTTL)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "session_id=%s\nrefresh_token=%s\naccess_token=%s\nexpires_at=%s\n",
		session.ID, refreshToken, token, session.ExpiresAt.Format(time.RFC3339))
	return nil
}

func revokeSession(ctx context.Context, store *database.Manager, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("revoke-session", flag.ContinueOnError)
	sessionID := fs.String("id", "", "session id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sessionID == "" {
		return errors.New("-id is required")
	}

	if err := store.RevokeSession(ctx, *sessionID, time.Now()); err != nil {
		return err
	}
	fmt.Fprintf(out, "revoked %s\n", *sessionID)
	return nil
}

func createConversation(ctx context.Context, store *database.Manager, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("create-conversation", flag.ContinueOnError)
	convType := fs.String("type", types.ConversationTypeGroup, "dm or group")
	participants := fs.String("participants", "", "comma separated user ids")
	id := fs.String("id", "", "conversation id (generated when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	conversation := &types.Conversation{
		ID:             *id,
		Type:           *convType,
		ParticipantIDs: splitList(*participants),
		CreatedAt:      time.Now().UTC(),
	}
	if conversation.ID == "" {
		conversation.ID = uuid.NewString()
	}
	if err := store.CreateConversation(ctx, conversation); err != nil {
		return err
	}
	fmt.Fprintf(out, "conversation_id=%s\n", conversation.ID)
	return nil
}

func issueToken(cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("issue-token", flag.ContinueOnError)
	userID := fs.String("user", "", "user id")
	sessionID := fs.String("session", "", "session id")
	ttl := fs.Duration("ttl", cfg.Auth.AccessTokenTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" || *sessionID == "" {
		return errors.New("-user and -session are required")
	}

	token, err := auth.NewIssuer([]byte(cfg.Auth.Secret)).Issue(types.Identity{UserID: *userID, SessionID: *sessionID}, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func splitList(s string) []string {
	var items []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}
