package main

import (
	"fmt"
	"log"
	"math/rand"
	"time"

	_ "github.com/deskline/chat/server/auth/basic"
	"github.com/deskline/chat/server/store"
	"github.com/deskline/chat/server/store/types"
)

func genDb(data *Data) {
	if len(data.Users) == 0 {
		log.Println("No data provided, stopping")
		return
	}

	nameIndex := make(map[string]types.Uid, len(data.Users))

	log.Println("Generating users...")

	// Agents and administrators go first so regular users can reference
	// their assigned agent by name.
	for _, pass := range []bool{false, true} {
		for _, uu := range data.Users {
			role := types.ParseRole(uu.Role)
			if role == types.RoleNone {
				log.Fatal("Unknown role ", uu.Role)
			}
			if (role == types.RoleRegular) != pass {
				continue
			}

			user := types.User{
				Role:   role,
				Public: &card{Fn: uu.Public.Fn, Photo: uu.Public.Photo},
			}
			user.CreatedAt = getCreatedTime(uu.CreatedAt)

			if uu.Agent != "" {
				agent, ok := nameIndex[uu.Agent]
				if !ok {
					log.Fatal("Unknown agent ", uu.Agent, " for user ", uu.Username)
				}
				user.Agent = agent
			}

			passwd := uu.Password
			if passwd == "(random)" {
				passwd = getPassword(8)
			}

			if _, err := store.Users.Create(&user, "basic",
				[]byte(uu.Username+":"+passwd)); err != nil {
				log.Fatal(err)
			}
			nameIndex[uu.Username] = user.Uid()

			fmt.Println("usr;" + uu.Username + ";" + user.Uid().UserId() + ";" + passwd)
		}
	}

	if len(data.Threads) == 0 || len(data.Messages) == 0 {
		log.Println("No threads to generate. All done.")
		return
	}

	log.Println("Generating messages...")

	agentOf := make(map[string]string, len(data.Users))
	for _, uu := range data.Users {
		agentOf[uu.Username] = uu.Agent
	}

	now := time.Now().UTC().Round(time.Millisecond)
	for _, th := range data.Threads {
		user, ok := nameIndex[th.User]
		if !ok {
			log.Fatal("Unknown thread user ", th.User)
		}
		agentName := agentOf[th.User]
		agent, ok := nameIndex[agentName]
		if !ok {
			log.Fatal("Thread user ", th.User, " has no assigned agent")
		}

		timestamp := getCreatedTime(th.StartedAt)
		increment := int(now.Sub(timestamp).Nanoseconds() / int64(th.Count+1) / 1000000)
		if increment < 1 {
			increment = 1
		}
		from, to := user, agent
		for i := 0; i < th.Count; i++ {
			// Roughly 40% chance the next message switches direction.
			if rand.Intn(5) < 2 {
				from, to = to, from
			}
			timestamp = timestamp.Add(time.Millisecond * time.Duration(rand.Intn(increment)))

			msg := types.Message{
				From:    from,
				To:      to,
				Content: data.Messages[i%len(data.Messages)],
			}
			msg.CreatedAt = timestamp
			// Older half of the thread has been seen by the recipient;
			// the rest is left unread.
			if i < th.Count/2 {
				readAt := timestamp.Add(time.Minute)
				msg.ReadAt = &readAt
			}

			if _, err := store.Messages.Save(&msg); err != nil {
				log.Fatal("Failed to insert message: ", err)
			}
		}
	}

	log.Println("All done.")
}
