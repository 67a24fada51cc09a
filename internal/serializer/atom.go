package serializer

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"os"
	"strings"
	"time"

	"usagerelay/internal/config"
)

// Feed describes where generated entries claim to live.
type Feed struct {
	Title       string
	Host        string
	UseHTTPS    bool
	Port        string
	Categories  []string
	EntityLinks bool
}

func FeedFrom(cfg config.EventFeedConfig, entityLinks bool) Feed {
	return Feed{
		Title:       cfg.FeedTitle,
		Host:        cfg.FeedHost,
		UseHTTPS:    cfg.UseHTTPS,
		Port:        cfg.Port,
		Categories:  cfg.Categories(),
		EntityLinks: entityLinks,
	}
}

// BaseURL is scheme://host[:port]/. An empty host falls back to the hostname.
func (f Feed) BaseURL() string {
	scheme := "http"
	if f.UseHTTPS {
		scheme = "https"
	}
	host := f.Host
	if host == "" {
		host, _ = os.Hostname()
	}
	if f.Port != "" {
		host += ":" + f.Port
	}
	return scheme + "://" + host + "/"
}

func (f Feed) EntityLink(eventType, id string) string {
	return f.BaseURL() + eventType + "/" + id
}

// Entity is one notification rendered as an Atom entry.
type Entity struct {
	ID        string
	EventType string
	Content   map[string]interface{}
	Updated   time.Time
}

// CleanContent drops top-level keys starting with an underscore.
func CleanContent(content map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(content))
	for k, v := range content {
		if !strings.HasPrefix(k, "_") {
			out[k] = v
		}
	}
	return out
}

// MarshalEntry renders e as a standalone Atom entry with a JSON content body.
func MarshalEntry(feed Feed, e Entity) ([]byte, error) {
	content, err := json.Marshal(CleanContent(e.Content))
	if err != nil {
		return nil, err
	}
	updated := e.Updated
	if updated.IsZero() {
		updated = time.Now()
	}

	entry := xml.StartElement{Name: xml.Name{Local: "entry"}, Attr: []xml.Attr{
		attr("xmlns", AtomNamespace),
		attr("xml:lang", "en"),
	}}

	tokens := []xml.Token{entry}
	tokens = append(tokens, textElement("title", e.EventType, nil)...)
	if feed.EntityLinks {
		link := xml.StartElement{Name: xml.Name{Local: "link"}, Attr: []xml.Attr{
			attr("href", feed.EntityLink(e.EventType, e.ID)),
			attr("rel", "alternate"),
		}}
		tokens = append(tokens, link, link.End())
	}
	tokens = append(tokens, textElement("updated", updated.UTC().Format(time.RFC3339), nil)...)
	tokens = append(tokens, textElement("id", "urn:uuid:"+e.ID, nil)...)
	tokens = append(tokens, textElement("summary", e.EventType, []xml.Attr{attr("type", "html")})...)
	for _, term := range append([]string{e.EventType}, feed.Categories...) {
		cat := xml.StartElement{Name: xml.Name{Local: "category"}, Attr: []xml.Attr{attr("term", term)}}
		tokens = append(tokens, cat, cat.End())
	}
	tokens = append(tokens, textElement("content", string(content), []xml.Attr{attr("type", "application/json")})...)
	tokens = append(tokens, entry.End())

	var buf bytes.Buffer
	buf.WriteString(xmlHeader)
	enc := xml.NewEncoder(&buf)
	for _, tok := range tokens {
		if err := enc.EncodeToken(tok); err != nil {
			return nil, err
		}
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func textElement(name, text string, attrs []xml.Attr) []xml.Token {
	start := xml.StartElement{Name: xml.Name{Local: name}, Attr: attrs}
	return []xml.Token{start, xml.CharData(text), start.End()}
}
