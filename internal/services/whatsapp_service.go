package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/buscai/backend/internal/metrics"
	"github.com/buscai/backend/internal/models"
	"github.com/buscai/backend/internal/whatsapp"
	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
)

const (
	messageDedupeTTL = 24 * time.Hour
	senderCityTTL    = 7 * 24 * time.Hour

	defaultWhatsAppResults = 5
)

// Message outcomes reported to metrics
const (
	OutcomeAnswered     = "answered"
	OutcomeNoResults    = "no_results"
	OutcomeHelp         = "help"
	OutcomeDuplicate    = "duplicate"
	OutcomeUnsupported  = "unsupported"
	OutcomeAudioFailed  = "audio_failed"
	OutcomeSearchFailed = "search_failed"
)

const whatsAppHelpText = "Olá! Eu sou o BUSCAÍ. Me diga o que você procura e em qual cidade, " +
	"por exemplo: \"encanador em Campinas\". Você também pode mandar um áudio."

// MessageSender delivers a text message to a WhatsApp number.
type MessageSender interface {
	SendText(ctx context.Context, to, body string) error
}

type MediaDownloader interface {
	DownloadMedia(ctx context.Context, mediaID string) ([]byte, string, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// WhatsAppService answers searches sent to the business number.
type WhatsAppService struct {
	redis       *redis.Client
	catalog     *CatalogService
	search      *SearchService
	sender      MessageSender
	media       MediaDownloader
	transcriber Transcriber
	maxResults  int
}

func NewWhatsAppService(redisClient *redis.Client, catalog *CatalogService, search *SearchService,
	sender MessageSender, media MediaDownloader, transcriber Transcriber, maxResults int) *WhatsAppService {
	if maxResults <= 0 {
		maxResults = defaultWhatsAppResults
	}
	return &WhatsAppService{
		redis:       redisClient,
		catalog:     catalog,
		search:      search,
		sender:      sender,
		media:       media,
		transcriber: transcriber,
		maxResults:  maxResults,
	}
}

// HandleWebhook processes every message of a webhook delivery and returns
// how many were answered.
func (s *WhatsAppService) HandleWebhook(ctx context.Context, body []byte) int {
	answered := 0
	for _, msg := range whatsapp.ParseWebhook(body) {
		if err := s.HandleMessage(ctx, msg); err != nil {
			log.Printf("[WHATSAPP] Message %s from %s failed: %v", msg.ID, msg.From, err)
			continue
		}
		answered++
	}
	return answered
}

// HandleMessage replies to one inbound message. Redeliveries of a message id
// already answered are ignored; a message whose reply could not be sent is
// answered again when the provider retries it.
func (s *WhatsAppService) HandleMessage(ctx context.Context, msg whatsapp.InboundMessage) error {
	key := "wa:msg:" + msg.ID
	first, err := s.redis.SetNX(ctx, key, 1, messageDedupeTTL).Result()
	if err != nil {
		return err
	}
	if !first {
		metrics.RecordWhatsAppMessage(msg.Type, OutcomeDuplicate)
		return nil
	}

	var reply, outcome string
	switch msg.Type {
	case "text", "interactive":
		reply, outcome = s.answer(ctx, msg.From, msg.Text)
	case "audio":
		text, err := s.transcribe(ctx, msg)
		if err != nil {
			log.Printf("[WHATSAPP] Audio %s could not be transcribed: %v", msg.MediaID, err)
			reply, outcome = "Não consegui entender o áudio. Pode escrever o que você procura?", OutcomeAudioFailed
			break
		}
		log.Printf("[WHATSAPP] Audio from %s transcribed: %q", msg.From, text)
		reply, outcome = s.answer(ctx, msg.From, text)
	default:
		reply, outcome = whatsAppHelpText, OutcomeUnsupported
	}

	metrics.RecordWhatsAppMessage(msg.Type, outcome)
	if err := s.sender.SendText(ctx, msg.From, reply); err != nil {
		if delErr := s.redis.Del(context.WithoutCancel(ctx), key).Err(); delErr != nil {
			log.Printf("[WHATSAPP] Failed to release message %s: %v", msg.ID, delErr)
		}
		return err
	}
	return nil
}

func (s *WhatsAppService) transcribe(ctx context.Context, msg whatsapp.InboundMessage) (string, error) {
	if msg.MediaID == "" {
		return "", errors.New("audio message without media id")
	}
	data, mimeType, err := s.media.DownloadMedia(ctx, msg.MediaID)
	if err != nil {
		return "", err
	}
	if mimeType == "" {
		mimeType = msg.MimeType
	}
	text, err := s.transcriber.Transcribe(ctx, data, mimeType)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("empty transcription")
	}
	return text, nil
}

func senderCityKey(from string) string {
	return "wa:city:" + from
}

// answer turns free text into a search and formats the reply.
func (s *WhatsAppService) answer(ctx context.Context, from, text string) (string, string) {
	if strings.TrimSpace(text) == "" {
		return whatsAppHelpText, OutcomeHelp
	}

	city, niche, err := s.catalog.MatchCityNiche(ctx, text)
	if err != nil {
		log.Printf("[WHATSAPP] Matching failed for %q: %v", text, err)
		return "Tivemos um problema agora. Tente novamente em instantes.", OutcomeSearchFailed
	}

	cityID := 0
	if city != nil {
		cityID = city.ID
		if err := s.redis.Set(ctx, senderCityKey(from), city.ID, senderCityTTL).Err(); err != nil {
			log.Printf("[WHATSAPP] Failed to remember city of %s: %v", from, err)
		}
	} else if remembered, err := s.redis.Get(ctx, senderCityKey(from)).Result(); err == nil {
		cityID, _ = strconv.Atoi(remembered)
	}

	if cityID == 0 || niche == nil {
		return whatsAppHelpText, OutcomeHelp
	}

	resp, err := s.search.Search(ctx, SearchRequest{
		CityID:  cityID,
		NicheID: niche.ID,
		Query:   text,
		Page:    1,
		Channel: models.ChannelWhatsApp,
	})
	if err != nil {
		log.Printf("[WHATSAPP] Search failed for %q: %v", text, err)
		return "Tivemos um problema agora. Tente novamente em instantes.", OutcomeSearchFailed
	}

	results := append(append([]models.SearchResult{}, resp.Sponsored...), resp.Organic...)
	if len(results) == 0 {
		return fmt.Sprintf("Não encontrei %s por aqui ainda. Tente outro serviço ou cidade.", strings.ToLower(niche.Name)), OutcomeNoResults
	}
	if len(results) > s.maxResults {
		results = results[:s.maxResults]
	}
	return formatResults(niche.Name, results), OutcomeAnswered
}

func formatResults(nicheName string, results []models.SearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Encontrei estas opções de %s:\n", strings.ToLower(nicheName))
	for i, r := range results {
		b.WriteString("\n")
		fmt.Fprintf(&b, "%d. %s", i+1, r.Company.Name)
		if r.Sponsored {
			b.WriteString(" (patrocinado)")
		}
		if contact := firstNonEmpty(r.Company.WhatsApp, r.Company.Phone); contact != "" {
			fmt.Fprintf(&b, "\n   Contato: %s", contact)
		}
		if r.Company.Address != nil && *r.Company.Address != "" {
			fmt.Fprintf(&b, "\n   %s", *r.Company.Address)
		}
		if r.Company.ReviewsCount > 0 {
			fmt.Fprintf(&b, "\n   Nota %s (%d avaliações)", r.Company.Rating.StringFixed(1), r.Company.ReviewsCount)
		}
	}
	return b.String()
}

func firstNonEmpty(values ...*string) string {
	for _, v := range values {
		if v != nil && strings.TrimSpace(*v) != "" {
			return *v
		}
	}
	return ""
}
