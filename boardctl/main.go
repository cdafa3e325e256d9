package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"syscall"

	"github.com/docopt/docopt-go"
	"github.com/joho/godotenv"
	"golang.org/x/term"

	"github.com/swipehome/triage/triage"
)

const DefaultApiUrl = "http://localhost:4000"
const DefaultConnectUrl = "ws://localhost:4000/ws"

const Version = "0.1.0"

func main() {
	// .env can provide TRIAGE_API_URL, TRIAGE_CONNECT_URL, TRIAGE_TOKEN
	godotenv.Load()

	usage := fmt.Sprintf(
		`Property triage board.

The default urls are:
    api_url: %s
    connect_url: %s

Usage:
    boardctl login --email=<email> [--password=<password>] [--api_url=<api_url>]
    boardctl board --catalog=<catalog> [--token=<token>]
        [--api_url=<api_url>]
        [--connect_url=<connect_url>]
        [--local=<local>]
    boardctl watch [--token=<token>] [--connect_url=<connect_url>]

Options:
    -h --help                  Show this screen.
    --version                  Show version.
    --email=<email>
    --password=<password>
    --token=<token>            Auth token [default from TRIAGE_TOKEN].
    --catalog=<catalog>        Path to a catalog json payload.
    --local=<local>            Path to the offline fallback db.
    --api_url=<api_url>
    --connect_url=<connect_url>`,
		DefaultApiUrl,
		DefaultConnectUrl,
	)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], Version)
	if err != nil {
		panic(err)
	}

	if login_, _ := opts.Bool("login"); login_ {
		login(opts)
	} else if board_, _ := opts.Bool("board"); board_ {
		board(opts)
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		watch(opts)
	}
}

func optString(opts docopt.Opts, key string, envKey string, defaultValue string) string {
	if valueAny := opts[key]; valueAny != nil {
		return valueAny.(string)
	}
	if envKey != "" {
		if value := os.Getenv(envKey); value != "" {
			return value
		}
	}
	return defaultValue
}

func login(opts docopt.Opts) {
	apiUrl := optString(opts, "--api_url", "TRIAGE_API_URL", DefaultApiUrl)
	email := optString(opts, "--email", "", "")

	if err := triage.ValidateEmail(email); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}

	password := optString(opts, "--password", "", "")
	if password == "" {
		fmt.Print("Password: ")
		passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			panic(err)
		}
		password = string(passwordBytes)
	}

	api := triage.NewApi(apiUrl)
	result, err := api.AuthLoginSync(&triage.AuthLoginArgs{
		Email:    email,
		Password: password,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "login error: %s\n", err)
		os.Exit(1)
	}
	if result.Data == nil || result.Data.Token == "" {
		fmt.Fprintf(os.Stderr, "login error: no token in response\n")
		os.Exit(1)
	}

	fmt.Printf("token: %s\n", result.Data.Token)
	if result.Data.User != nil {
		fmt.Printf("user: %s <%s>\n", result.Data.User.Name, result.Data.User.Email)
	}
}

func board(opts docopt.Opts) {
	apiUrl := optString(opts, "--api_url", "TRIAGE_API_URL", DefaultApiUrl)
	connectUrl := optString(opts, "--connect_url", "TRIAGE_CONNECT_URL", DefaultConnectUrl)
	token := optString(opts, "--token", "TRIAGE_TOKEN", "")
	catalogPath := optString(opts, "--catalog", "", "")
	localPath := optString(opts, "--local", "", "")

	if token != "" && triage.TokenExpired(token) {
		fmt.Fprintf(os.Stderr, "auth token expired, login again\n")
		os.Exit(1)
	}

	catalogData, err := os.ReadFile(catalogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "catalog error: %s\n", err)
		os.Exit(1)
	}
	catalog, err := triage.ExtractProperties(catalogData)
	if err != nil {
		fmt.Fprintf(os.Stderr, "catalog error: %s\n", err)
		os.Exit(1)
	}
	if 0 < catalog.Dropped {
		fmt.Fprintf(os.Stderr, "dropped %d malformed catalog records\n", catalog.Dropped)
	}

	event := triage.NewEventWithContext(context.Background())
	event.SetOnSignals(syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	ctx := event.Ctx()
	defer event.Cancel()

	api := triage.NewApiWithContext(ctx, apiUrl)
	api.SetAuthToken(token)
	settingsCache := triage.NewSettingsCache(api)
	settingsCache.Load(ctx)

	client := triage.NewClientWithDefaults(ctx, connectUrl, &triage.ClientAuth{
		Token:      token,
		AppVersion: Version,
	})
	defer client.Close()

	storeSettings := triage.DefaultStoreSettings()
	if localPath != "" {
		local, err := triage.OpenLocalStateStore(localPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "local fallback error: %s\n", err)
			os.Exit(1)
		}
		defer local.Close()
		storeSettings.LocalFallback = local
	}

	store := triage.NewStore(ctx, catalog.Properties, triage.NewRemoteGateway(client), storeSettings)
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "init error: %s\n", err)
		os.Exit(1)
	}

	printBoard(store, "liked", settingsCache.ColumnSettings(triage.BoardLike), triage.StatusLiked)
	printBoard(store, "disliked", settingsCache.ColumnSettings(triage.BoardDislike), triage.StatusDisliked)
}

func printBoard(store *triage.Store, title string, columns []triage.ColumnSetting, status triage.PropertyStatus) {
	fmt.Printf("%s:\n", title)
	board := triage.NewBoard(store, columns)
	buckets := board.Columns()
	for i, bucket := range buckets {
		fmt.Printf("  [%d] %s (%d)\n", i, columns[i].Name, len(bucket))
		for _, property := range bucket {
			if property.Status != status {
				continue
			}
			fmt.Printf("      %s  %d  %s / %s", property.Token, property.Price, property.Address.City.Text, property.Address.Neighborhood.Text)
			if property.Comment != "" {
				fmt.Printf("  # %s", property.Comment)
			}
			fmt.Println()
		}
	}
}

func watch(opts docopt.Opts) {
	connectUrl := optString(opts, "--connect_url", "TRIAGE_CONNECT_URL", DefaultConnectUrl)
	token := optString(opts, "--token", "TRIAGE_TOKEN", "")

	event := triage.NewEventWithContext(context.Background())
	event.SetOnSignals(syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer event.Cancel()

	client := triage.NewClientWithDefaults(event.Ctx(), connectUrl, &triage.ClientAuth{
		Token:      token,
		AppVersion: Version,
	})
	defer client.Close()

	client.On(triage.EventConnected, func(env *triage.Envelope) {
		fmt.Println("connected")
	})
	client.On(triage.EventDisconnected, func(env *triage.Envelope) {
		fmt.Println("disconnected")
	})
	client.On(triage.EventPropertyUpdated, func(env *triage.Envelope) {
		state := &triage.PropertyState{}
		if env.Data == nil || json.Unmarshal(env.Data, state) != nil {
			return
		}
		fmt.Printf("%s -> %s column=%d position=%d\n", state.PropertyId, state.Status, state.ColumnIndex, state.Position)
	})

	client.Connect()
	event.WaitForExit()
}
