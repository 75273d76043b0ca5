/******************************************************************************
 *
 *  Description :
 *
 *    Command-line tool for initializing the Deskline database: creates the
 *    schema and optionally loads sample accounts and conversations from a
 *    JSON data file.
 *
 *****************************************************************************/
package main

import (
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/deskline/chat/server/db/mongodb"
	_ "github.com/deskline/chat/server/db/mysql"
	_ "github.com/deskline/chat/server/db/postgres"
	"github.com/deskline/chat/server/store"
	jcr "github.com/tinode/jsonco"
)

type configType struct {
	StoreConfig json.RawMessage            `json:"store_config"`
	AuthConfig  map[string]json.RawMessage `json:"auth_config"`
}

type card struct {
	Fn    string `json:"fn"`
	Photo string `json:"photo,omitempty"`
}

/*
User object in data.json

	"createdAt": "-140h",
	"username": "alice",
	"passhash": "alice123",
	"role": "agent",
	"agent": "",
	"public": {"fn": "Alice Johnson"}
*/
type User struct {
	CreatedAt string `json:"createdAt"`
	Username  string `json:"username"`
	Password  string `json:"passhash"`
	Role      string `json:"role"`
	Agent     string `json:"agent"`
	Public    card   `json:"public"`
}

/*
Thread object in data.json: a seed conversation between a regular user
and the agent serving him.

	"user": "bob",
	"startedAt": "-96h",
	"count": 12
*/
type Thread struct {
	User      string `json:"user"`
	StartedAt string `json:"startedAt"`
	Count     int    `json:"count"`
}

// Data is the root object of data.json.
type Data struct {
	Users    []User   `json:"users"`
	Threads  []Thread `json:"threads"`
	Messages []string `json:"messages"`
}

// Generates password of length n
func getPassword(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-/.+?=&"

	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}

func main() {
	var reset = flag.Bool("reset", false, "force database reset")
	var noInit = flag.Bool("no_init", false, "check that database exists but don't create if missing")
	var datafile = flag.String("data", "", "name of file with sample data to load")
	var conffile = flag.String("config", "./deskline.conf", "config of the database connection")

	flag.Parse()

	var data Data
	if *datafile != "" && *datafile != "-" {
		raw, err := os.ReadFile(*datafile)
		if err != nil {
			log.Fatalln("Failed to read sample data file:", err)
		}
		if err = json.Unmarshal(raw, &data); err != nil {
			log.Fatalln("Failed to parse sample data:", err)
		}
	}

	var config configType
	if file, err := os.Open(*conffile); err != nil {
		log.Fatalln("Failed to read config file:", err)
	} else {
		jr := jcr.New(file)
		if err = json.NewDecoder(jr).Decode(&config); err != nil {
			switch jerr := err.(type) {
			case *json.UnmarshalTypeError:
				lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
				log.Fatalf("Unmarshall error in config file in %s at %d:%d (offset %d bytes): %s",
					jerr.Field, lnum, cnum, jerr.Offset, jerr.Error())
			case *json.SyntaxError:
				lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
				log.Fatalf("Syntax error in config file at %d:%d (offset %d bytes): %s",
					lnum, cnum, jerr.Offset, jerr.Error())
			default:
				log.Fatal("Failed to parse config file: ", err)
			}
		}
		file.Close()
	}

	err := store.Store.Open(1, config.StoreConfig)
	defer store.Store.Close()

	log.Println("Database", store.Store.GetAdapterName(), store.Store.GetAdapterVersion())

	if err != nil {
		if strings.Contains(err.Error(), "Database not initialized") {
			if *noInit {
				log.Fatalln("Database not found.")
			}
			log.Println("Database not found. Creating.")
		} else if strings.Contains(err.Error(), "Invalid database version") {
			msg := "Wrong DB version: expected " + strconv.Itoa(store.Store.GetAdapterVersion()) + ", got " +
				strconv.Itoa(store.Store.GetDbVersion()) + "."
			if *reset {
				log.Println(msg, "Dropping and recreating the database.")
			} else {
				log.Fatalln(msg, "Use --reset to reset.")
			}
		} else {
			log.Fatalln("Failed to init DB adapter:", err)
		}
	} else if *reset {
		log.Println("Database reset requested")
	} else {
		log.Println("Database exists, DB version is correct. All done.")
		os.Exit(0)
	}

	if err = store.Store.InitDb(config.StoreConfig, true); err != nil {
		log.Fatalln("Failed to init DB:", err)
	}
	if *reset {
		log.Println("Database reset")
	} else {
		log.Println("Database initialized")
	}

	if err = store.InitAuthSchemes(config.AuthConfig); err != nil {
		log.Fatalln("Failed to init auth schemes:", err)
	}

	genDb(&data)
	os.Exit(0)
}

// Go json cannot unmarshal Duration from a string, thus this hack.
func getCreatedTime(delta string) time.Time {
	dd, err := time.ParseDuration(delta)
	if err != nil && delta != "" {
		log.Fatal("Invalid duration string ", delta)
	}
	return time.Now().UTC().Round(time.Millisecond).Add(dd)
}
