// Package whatsapp provides the WhatsApp client using whatsmeow.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"

	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/jid"
	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/lifecycle"
	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/message"
	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/store"
)

// Common errors
var (
	ErrNotLoggedIn = errors.New("not logged in")
	ErrDestroyed   = errors.New("client has been destroyed")
)

// Cache is where messages and chat names are kept so they can be looked
// up and quoted later.
type Cache struct {
	Messages store.MessageRepository
	Chats    store.ChatRepository
}

// Client is one whatsmeow connection. It implements lifecycle.Client.
type Client struct {
	client *whatsmeow.Client
	cache  Cache
	sink   lifecycle.Sink
	log    *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	handlerID uint32

	mu        sync.Mutex
	destroyed bool
}

var _ lifecycle.Client = (*Client)(nil)

func newClient(cli *whatsmeow.Client, cache Cache, sink lifecycle.Sink, log *slog.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		client: cli,
		cache:  cache,
		sink:   sink,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
	c.handlerID = cli.AddEventHandler(c.handleEvent)
	return c
}

// Initialize connects to WhatsApp. Without a stored session it first opens
// the pairing channel, whose codes are reported as QRCode events.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return ErrDestroyed
	}

	if c.client.Store.ID == nil {
		c.log.Info("no session found, QR code required")
		qrChan, err := c.client.GetQRChannel(c.ctx)
		if err != nil {
			return fmt.Errorf("failed to get QR channel: %w", err)
		}
		go c.watchQR(qrChan)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

// Destroy disconnects and detaches the client. It is safe to call more
// than once.
func (c *Client) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	c.destroyed = true

	c.cancel()
	c.client.RemoveEventHandler(c.handlerID)
	c.client.Disconnect()
}

// SendMessage sends msg to a formatted address and caches the result.
func (c *Client) SendMessage(ctx context.Context, to string, msg *waE2E.Message) (*message.Message, error) {
	recipient, err := jid.Parse(to)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", to, err)
	}

	resp, err := c.client.SendMessage(ctx, recipient, msg)
	if err != nil {
		return nil, err
	}

	sent := &message.Message{
		ID:        resp.ID,
		ChatID:    recipient.String(),
		Timestamp: resp.Timestamp.Unix(),
		FromMe:    true,
	}
	fillPayload(sent, msg)
	addressing(sent, c.ownJID(), c.ownJID())

	c.persist(ctx, sent, "")
	return sent, nil
}

// Upload encrypts and uploads media to the WhatsApp servers.
func (c *Client) Upload(ctx context.Context, data []byte, mediaType whatsmeow.MediaType) (whatsmeow.UploadResponse, error) {
	return c.client.Upload(ctx, data, mediaType)
}

// GetMessageByID looks up a received or sent message in the cache.
func (c *Client) GetMessageByID(ctx context.Context, id string) (*message.Message, error) {
	stored, err := c.cache.Messages.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", id, err)
	}
	return fromStored(stored, c.ownJID())
}

// GetChat resolves a chat. Group names come from the cache and fall back
// to the server; direct chats are named after the contact.
func (c *Client) GetChat(ctx context.Context, chatID string) (*message.Chat, error) {
	target, err := jid.Parse(chatID)
	if err != nil {
		return nil, fmt.Errorf("invalid chat %q: %w", chatID, err)
	}
	isGroup := target.Server == types.GroupServer

	cached, err := c.cache.Chats.GetByJID(ctx, chatID)
	if err == nil && cached.Name != "" {
		return &message.Chat{ID: chatID, Name: cached.Name, IsGroup: cached.IsGroup}, nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		c.log.Warn("failed to read chat cache", "chat", chatID, "error", err)
	}

	if !isGroup {
		contact, err := c.GetContact(ctx, chatID)
		if err != nil {
			return nil, err
		}
		return &message.Chat{ID: chatID, Name: contact.DisplayName()}, nil
	}

	info, err := c.client.GetGroupInfo(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to get group info: %w", err)
	}
	c.cacheChat(ctx, &store.Chat{JID: chatID, Name: info.Name, IsGroup: true})
	return &message.Chat{ID: chatID, Name: info.Name, IsGroup: true}, nil
}

// GetContact reads a contact from the device's contact store.
func (c *Client) GetContact(ctx context.Context, id string) (*message.Contact, error) {
	target, err := jid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid contact %q: %w", id, err)
	}
	target = target.ToNonAD()

	info, err := c.client.Store.Contacts.GetContact(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return &message.Contact{ID: target.String(), Name: info.FullName, PushName: info.PushName}, nil
}

// GetChats returns the joined groups and refreshes their cached names.
func (c *Client) GetChats(ctx context.Context) ([]message.Chat, error) {
	groups, err := c.client.GetJoinedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get groups: %w", err)
	}

	chats := make([]message.Chat, 0, len(groups))
	for _, g := range groups {
		id := g.JID.String()
		c.cacheChat(ctx, &store.Chat{JID: id, Name: g.Name, IsGroup: true})
		chats = append(chats, message.Chat{ID: id, Name: g.Name, IsGroup: true})
	}
	return chats, nil
}

func (c *Client) ownJID() string {
	if id := c.client.Store.ID; id != nil {
		return id.ToNonAD().String()
	}
	return ""
}

func (c *Client) accountID() string {
	if id := c.client.Store.ID; id != nil {
		return id.User
	}
	return ""
}

// persist stores msg and its chat. Cache failures are logged only.
func (c *Client) persist(ctx context.Context, msg *message.Message, chatName string) {
	ts := time.UnixMilli(message.NormalizeEpoch(msg.Timestamp))
	c.cacheChat(ctx, &store.Chat{
		JID:             msg.ChatID,
		Name:            chatName,
		IsGroup:         jid.IsGroup(msg.ChatID),
		LastMessageTime: ts,
	})

	stored, err := toStored(msg)
	if err != nil {
		c.log.Error("failed to encode message", "id", msg.ID, "error", err)
		return
	}
	if err := c.cache.Messages.Store(ctx, stored); err != nil {
		c.log.Error("failed to store message", "id", msg.ID, "error", err)
	}
}

func (c *Client) cacheChat(ctx context.Context, chat *store.Chat) {
	if err := c.cache.Chats.Upsert(ctx, chat); err != nil {
		c.log.Error("failed to upsert chat", "jid", chat.JID, "error", err)
	}
}
