package events

import (
	"log"

	"github.com/redis/go-redis/v9"

	rdbPkg "github.com/promptclash/promptclash-backend/pkg/redis"
	wsPkg "github.com/promptclash/promptclash-backend/pkg/websocket"
)

// Broadcaster delivers already-built event payloads to broadcast groups.
type Broadcaster interface {
	ToBattle(battleID string, payload []byte)
	ToBattleUser(battleID, userID string, payload []byte)
	ToUser(userID string, payload []byte)
}

// Publisher fans events out through Redis pub/sub so coordinator instances
// on other processes see them too; the local Bridge feeds them back to
// connected clients.
type Publisher struct {
	rdb *redis.Client
}

func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

func (p *Publisher) ToBattle(battleID string, payload []byte) {
	if err := p.rdb.Publish(rdbPkg.Ctx, wsPkg.BattleChannel(battleID), payload).Err(); err != nil {
		log.Printf("Failed to publish to battle %s: %v", battleID, err)
	}
}

func (p *Publisher) ToBattleUser(battleID, userID string, payload []byte) {
	if err := p.rdb.Publish(rdbPkg.Ctx, wsPkg.BattleUserChannel(battleID, userID), payload).Err(); err != nil {
		log.Printf("Failed to publish to battle %s user %s: %v", battleID, userID, err)
	}
}

func (p *Publisher) ToUser(userID string, payload []byte) {
	if err := p.rdb.Publish(rdbPkg.Ctx, wsPkg.UserChannel(userID), payload).Err(); err != nil {
		log.Printf("Failed to publish to user %s: %v", userID, err)
	}
}
