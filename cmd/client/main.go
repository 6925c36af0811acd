package main

import (
	"bufio"
	"context"
	"dm-lab/auth"
	"dm-lab/client"
	"dm-lab/domain"
	"dm-lab/errors"
	"dm-lab/projection"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// Config defines the client-side environment variables.
type Config struct {
	ServerURL   string        `env:"DM_SERVER_URL,default=http://localhost:8080"`
	Name        string        `env:"DM_NAME"`
	Email       string        `env:"DM_EMAIL,required=true"`
	Password    string        `env:"DM_PASSWORD,required=true"`
	SendTimeout time.Duration `env:"DM_SEND_TIMEOUT,default=15s"`
	LogLevel    string        `env:"LOG_LEVEL,default=WARN"`
}

const usage = `usage: client [-register] <command>

commands:
  users [query]        list users, optionally filtered by name or email
  inbox                list conversations, then follow updates
  chat <userId>        open the conversation with a user and type messages
`

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	register := flag.Bool("register", false, "create the account before logging in")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		return exitConfig, nil
	}

	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := client.NewAPI(config.ServerURL, nil)
	if *register {
		if _, err := api.Register(ctx, auth.RegisterRequest{
			Name: config.Name, Email: config.Email, Password: config.Password,
		}); err != nil {
			return exitRuntime, fmt.Errorf("register: %w", err)
		}
	} else if _, err := api.Login(ctx, auth.LoginRequest{Email: config.Email, Password: config.Password}); err != nil {
		return exitRuntime, fmt.Errorf("login: %w", err)
	}

	switch command := flag.Arg(0); command {
	case "users":
		return listUsers(ctx, api, strings.Join(flag.Args()[1:], " "))
	case "inbox", "chat":
		session, err := client.Connect(ctx, log, api, config.SendTimeout)
		if err != nil {
			return exitRuntime, fmt.Errorf("connect: %w", err)
		}
		defer session.Close()
		if command == "inbox" {
			return inbox(ctx, session)
		}
		if flag.NArg() < 2 {
			flag.Usage()
			return exitConfig, nil
		}
		return chat(ctx, session, flag.Arg(1))
	default:
		flag.Usage()
		return exitConfig, fmt.Errorf("unknown command %q", command)
	}
}

func listUsers(ctx context.Context, api *client.API, query string) (int, error) {
	users, err := api.ListUsers(ctx, query)
	if err != nil {
		return exitRuntime, err
	}
	table := newTable("ID", "Name", "Email")
	for _, u := range users {
		table.Append([]string{u.ID, u.Name, u.Email})
	}
	table.Render()
	return exitOK, nil
}

func inbox(ctx context.Context, session *client.Session) (int, error) {
	// Subscribe before listing so no update falls in between.
	watch, err := session.WatchInbox(ctx, func(u domain.ConversationUpdate) {
		color.Cyan.Printf("» %s %s: %s\n", u.ConversationID.String()[:8],
			u.LastMessage.Sender.Name, u.LastMessage.Content)
	})
	if err != nil {
		return exitRuntime, err
	}
	defer watch.Close()

	summaries, err := session.API().ListConversations(ctx)
	if err != nil {
		return exitRuntime, err
	}
	table := newTable("Conversation", "With", "Last message", "Updated")
	for _, s := range summaries {
		last := ""
		if s.LastMessage != nil {
			last = s.LastMessage.Sender.Name + ": " + s.LastMessage.Content
		}
		table.Append([]string{s.ID.String(), peerName(s, session.UserID()), last,
			s.UpdatedAt.Local().Format(time.DateTime)})
	}
	table.Render()

	color.Gray.Println("Waiting for updates (Ctrl+C to quit)...")
	select {
	case <-ctx.Done():
	case <-session.Done():
		return exitRuntime, errors.ErrDelivery
	}
	return exitOK, nil
}

func chat(ctx context.Context, session *client.Session, peerID string) (int, error) {
	summary, err := session.API().StartConversation(ctx, peerID)
	if err != nil {
		return exitRuntime, err
	}
	view, err := session.OpenConversation(ctx, summary.ID)
	if err != nil {
		return exitRuntime, err
	}
	defer view.Close()

	color.Green.Printf("Chat with %s (/retry <n> resends a failed line, Ctrl+C quits)\n", peerName(summary, session.UserID()))
	render(view.Entries(), session.UserID())

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return exitOK, nil
		case <-session.Done():
			return exitRuntime, errors.ErrDelivery
		case <-view.Changes():
			render(view.Entries(), session.UserID())
		case line, ok := <-lines:
			if !ok {
				return exitOK, nil
			}
			// Sends run in the background; their outcome shows up as a change.
			go handleLine(ctx, view, line)
		}
	}
}

func handleLine(ctx context.Context, view *client.ConversationView, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if n, ok := strings.CutPrefix(line, "/retry "); ok {
		var index int
		if _, err := fmt.Sscanf(n, "%d", &index); err != nil {
			color.Red.Println("usage: /retry <n>")
			return
		}
		entries := view.Entries()
		if index < 1 || index > len(entries) {
			color.Red.Printf("no line %d\n", index)
			return
		}
		_, _ = view.Retry(ctx, entries[index-1].TempID)
		return
	}
	_, _ = view.Send(ctx, line)
}

func render(entries []projection.Entry, me string) {
	fmt.Print("\033[H\033[2J")
	for i, e := range entries {
		prefix := fmt.Sprintf("%3d [%s] %s: ", i+1,
			e.Message.CreatedAt.Local().Format(time.TimeOnly), senderName(e.Message.Sender, me))
		switch e.Status {
		case projection.StatusSending:
			color.Gray.Println(prefix + e.Message.Content + " …")
		case projection.StatusError:
			color.Red.Println(prefix + e.Message.Content + " (failed)")
		default:
			if e.Message.Sender.ID == me {
				color.Green.Println(prefix + e.Message.Content)
			} else {
				fmt.Println(prefix + e.Message.Content)
			}
		}
	}
}

func senderName(u domain.User, me string) string {
	switch {
	case u.ID == me:
		return "me"
	case u.Name != "":
		return u.Name
	default:
		return u.ID
	}
}

func peerName(s domain.ConversationSummary, me string) string {
	for _, p := range s.Participants {
		if p.ID != me {
			return senderName(p, me)
		}
	}
	return "?"
}

func newTable(header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	return table
}
