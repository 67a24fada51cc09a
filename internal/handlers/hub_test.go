package handlers

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubPublishesOneTopicPerEventType(t *testing.T) {
	srv := newRecorder(t, http.StatusNoContent, "")
	hubURL, err := url.Parse(srv.URL)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Hub.Host = hubURL.Hostname()
	cfg.Hub.Port = hubURL.Port()

	h, err := NewHub(testDeps(cfg))
	require.NoError(t, err)
	assert.Equal(t, "https://feeds.example.com:8443/compute.instance.exists", h.TopicURL("compute.instance.exists"))

	first := message("m-1", "compute.instance.exists", nil)
	run(h,
		first,
		message("m-2", "compute.instance.exists", nil),
		message("m-3", "image.exists", nil),
	)

	reqs := srv.captured()
	require.Len(t, reqs, 2)
	var topics []string
	for _, r := range reqs {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.ContentType)
		form, err := url.ParseQuery(r.Body)
		require.NoError(t, err)
		assert.Equal(t, "publish", form.Get("hub.mode"))
		topics = append(topics, form.Get("hub.url"))
	}
	assert.Equal(t, []string{
		"https://feeds.example.com:8443/compute.instance.exists",
		"https://feeds.example.com:8443/image.exists",
	}, topics)
	assert.True(t, first.Acknowledged())
}

func TestHubTopicDefaults(t *testing.T) {
	cfg := testConfig()
	cfg.EventFeed.FeedHost = ""
	cfg.EventFeed.Port = ""
	cfg.EventFeed.UseHTTPS = false

	h, err := NewHub(testDeps(cfg))
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:80/a.b", h.TopicURL("a.b"))
}
