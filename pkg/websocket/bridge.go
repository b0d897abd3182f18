package websocket

import (
	"log"
	"strings"

	"github.com/redis/go-redis/v9"

	rdbPkg "github.com/promptclash/promptclash-backend/pkg/redis"
)

// Channel naming for the pub/sub fan-out. Coordinator instances never share
// memory; everything crossing processes goes through these channels.
//
//	battle:<battleID>                group broadcast to every room member
//	battle:<battleID>:to:<userID>    personalized event for one room member
//	user:<userID>                    matchmaking-channel push
const (
	battlePrefix = "battle:"
	userPrefix   = "user:"
)

func BattleChannel(battleID string) string {
	return battlePrefix + battleID
}

func BattleUserChannel(battleID, userID string) string {
	return battlePrefix + battleID + ":to:" + userID
}

func UserChannel(userID string) string {
	return userPrefix + userID
}

// Bridge subscribes to the broadcast channels and delivers payloads to the
// clients connected to this process.
type Bridge struct {
	RedisClient *redis.Client
	Hub         *Hub
	UserHub     *UserHub
}

func NewBridge(rdb *redis.Client, hub *Hub, userHub *UserHub) *Bridge {
	return &Bridge{
		RedisClient: rdb,
		Hub:         hub,
		UserHub:     userHub,
	}
}

func (b *Bridge) Run() {
	log.Println("Broadcast bridge starting...")
	pubsub := b.RedisClient.PSubscribe(rdbPkg.Ctx, battlePrefix+"*", userPrefix+"*")
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(rdbPkg.Ctx)
		if err != nil {
			log.Printf("Broadcast bridge pub/sub error: %v", err)
			continue
		}
		b.deliver(msg.Channel, []byte(msg.Payload))
	}
}

func (b *Bridge) deliver(channel string, payload []byte) {
	switch {
	case strings.HasPrefix(channel, userPrefix):
		userID := strings.TrimPrefix(channel, userPrefix)
		b.UserHub.SendToUser(userID, payload)
	case strings.HasPrefix(channel, battlePrefix):
		rest := strings.TrimPrefix(channel, battlePrefix)
		if battleID, userID, ok := strings.Cut(rest, ":to:"); ok {
			if room, exists := b.Hub.GetRoom(battleID); exists {
				room.SendTo(userID, payload)
			}
			return
		}
		if room, exists := b.Hub.GetRoom(rest); exists {
			room.Broadcast("", payload)
		}
	}
}
