/******************************************************************************
 *
 *  Description :
 *
 *  Setup & initialization.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"path/filepath"
	"runtime"

	"github.com/gorilla/handlers"
	jcr "github.com/tinode/jsonco"

	_ "github.com/deskline/chat/server/auth/basic"
	_ "github.com/deskline/chat/server/auth/token"
	_ "github.com/deskline/chat/server/db/mongodb"
	_ "github.com/deskline/chat/server/db/mysql"
	_ "github.com/deskline/chat/server/db/postgres"
	"github.com/deskline/chat/server/logs"
	"github.com/deskline/chat/server/store"
)

const (
	// currentVersion is the version of the API reported to clients.
	currentVersion = "0.1"

	// Default maximum message size allowed from client, bytes.
	defaultMaxMessageSize = 1 << 19 // 512K

	// Default maximum message content length, grapheme clusters.
	defaultMaxContentLength = 4096
)

// Build timestamp set by the compiler, format YYYYMMDDHHMM.
var buildstamp = "undef"

var globals struct {
	// Shared state of live sessions.
	sessionStore *SessionStore
	// Per-user multicast groups.
	hub *Hub
	// Refcounted online state of users.
	connRegistry *ConnRegistry
	// Presence watchers.
	presence *Presence

	// Salt used to sign API keys.
	apiKeySalt []byte
	// Maximum message size allowed from the client.
	maxMessageSize int64
	// Maximum message content length in grapheme clusters.
	maxContentLength int

	// Add Strict-Transport-Security to headers, the value signifies age.
	// Empty string "" turns it off.
	tlsStrictMaxAge string

	// Channel for asynchronous stats updates.
	statsUpdate chan *varUpdate
}

type configType struct {
	// HTTP(S) address:port to listen on.
	Listen string `json:"listen"`
	// URL path for exposing runtime stats, "-" to disable.
	ExpvarPath string `json:"expvar"`
	// Salt for signing API keys.
	APIKeySalt []byte `json:"api_key_salt"`
	// Maximum message size allowed from client, bytes.
	MaxMessageSize int64 `json:"max_message_size"`
	// Maximum message content length, grapheme clusters.
	MaxContentLength int `json:"max_content_length"`

	// Configs for subsystems.
	Store json.RawMessage            `json:"store_config"`
	TLS   json.RawMessage            `json:"tls"`
	Auth  map[string]json.RawMessage `json:"auth_config"`
}

func main() {
	executable, _ := os.Executable()

	logs.Init(os.Stderr, "stdFlags")

	logs.Info.Printf("Server v%s:%s:%s; pid %d; %d process(es)",
		currentVersion, executable, buildstamp,
		os.Getpid(), runtime.GOMAXPROCS(runtime.NumCPU()))

	var configfile = flag.String("config", "deskline.conf", "Path to config file.")
	var listenOn = flag.String("listen", "", "Override address and port to listen on for HTTP(S) clients.")
	var expvarPath = flag.String("expvar", "", "Override the URL path where runtime stats are exposed. Use '-' to disable.")
	var logFlags = flag.String("log_flags", "stdFlags", "Comma-separated list of log flags.")
	flag.Parse()

	logs.Init(os.Stderr, *logFlags)

	curwd, err := os.Getwd()
	if err != nil {
		logs.Err.Fatal("Couldn't get current working directory: ", err)
	}

	*configfile = toAbsolutePath(curwd, *configfile)
	logs.Info.Printf("Using config from '%s'", *configfile)

	var config configType
	if file, err := os.Open(*configfile); err != nil {
		logs.Err.Fatal("Failed to read config file: ", err)
	} else {
		jr := jcr.New(file)
		if err = json.NewDecoder(jr).Decode(&config); err != nil {
			switch jerr := err.(type) {
			case *json.UnmarshalTypeError:
				lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
				logs.Err.Fatalf("Unmarshall error in config file in %s at %d:%d (offset %d bytes): %s",
					jerr.Field, lnum, cnum, jerr.Offset, jerr.Error())
			case *json.SyntaxError:
				lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
				logs.Err.Fatalf("Syntax error in config file at %d:%d (offset %d bytes): %s",
					lnum, cnum, jerr.Offset, jerr.Error())
			default:
				logs.Err.Fatal("Failed to parse config file: ", err)
			}
		}
		file.Close()
	}

	if *listenOn != "" {
		config.Listen = *listenOn
	}

	if err = store.Store.Open(1, config.Store); err != nil {
		logs.Err.Fatal("Failed to connect to DB: ", err)
	}
	logs.Info.Println("DB adapter", store.Store.GetAdapterName(), store.Store.GetAdapterVersion())
	defer func() {
		store.Store.Close()
		logs.Info.Println("Closed database connection(s)")
		logs.Info.Println("All done, good bye")
	}()

	if err = store.InitAuthSchemes(config.Auth); err != nil {
		logs.Err.Fatal("Failed to init auth schemes: ", err)
	}

	globals.sessionStore = NewSessionStore()
	globals.hub = newHub()
	globals.presence = NewPresence()
	globals.connRegistry = NewConnRegistry()

	globals.apiKeySalt = config.APIKeySalt
	globals.maxMessageSize = config.MaxMessageSize
	if globals.maxMessageSize <= 0 {
		globals.maxMessageSize = defaultMaxMessageSize
	}
	globals.maxContentLength = config.MaxContentLength
	if globals.maxContentLength <= 0 {
		globals.maxContentLength = defaultMaxContentLength
	}

	mux := http.NewServeMux()

	// Websocket clients.
	mux.HandleFunc("/v0/channels", serveWebSocket)

	// REST API.
	mux.HandleFunc("POST /v0/login", serveLogin)
	mux.HandleFunc("POST /v0/messages", serveSendMessage)
	mux.HandleFunc("GET /v0/messages/{user}", serveThread)
	mux.HandleFunc("GET /v0/conversations", serveConvoList)

	mux.HandleFunc("/", serve404)

	if *expvarPath != "" {
		config.ExpvarPath = *expvarPath
	}
	statsInit(mux, config.ExpvarPath)
	statsRegisterInt("Version")
	decVersion := base10Version(parseVersion(currentVersion))
	statsSet("Version", decVersion)
	statsRegisterInt("LiveSessions")
	statsRegisterInt("TotalSessions")
	statsRegisterInt("IncomingMessagesWebsockTotal")
	statsRegisterInt("OutgoingMessagesWebsockTotal")
	statsRegisterInt("TotalLogins")
	statsRegisterInt("TotalMessagesSent")

	handler := hstsHandler(handlers.CombinedLoggingHandler(os.Stdout, mux))
	if err = listenAndServe(config.Listen, handler, config.TLS, signalHandler()); err != nil {
		logs.Err.Fatal(err)
	}
}

// Convert relative filepath to absolute.
func toAbsolutePath(base, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Clean(filepath.Join(base, path))
}

