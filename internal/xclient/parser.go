package xclient

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// timelineDateLayout is the platform's tweet timestamp format.
const timelineDateLayout = "Mon Jan 2 15:04:05 -0700 2006"

// The GraphQL response shape, reduced to the fields the parser reads.
// Everything is optional; missing branches decode to zero values.

type timelineResponse struct {
	Data struct {
		User struct {
			Result struct {
				TypeName   string `json:"__typename"`
				RestID     string `json:"rest_id"`
				TimelineV2 struct {
					Timeline struct {
						Instructions []timelineInstruction `json:"instructions"`
					} `json:"timeline"`
				} `json:"timeline_v2"`
			} `json:"result"`
		} `json:"user"`
	} `json:"data"`
}

type timelineInstruction struct {
	Type    string          `json:"type"`
	Entries []timelineEntry `json:"entries"`
	Entry   *timelineEntry  `json:"entry"`
}

type timelineEntry struct {
	EntryID string `json:"entryId"`
	Content struct {
		Value       string       `json:"value"` // cursor entries
		ItemContent *itemContent `json:"itemContent"`
		Items       []struct {
			Item struct {
				ItemContent *itemContent `json:"itemContent"`
			} `json:"item"`
		} `json:"items"`
	} `json:"content"`
}

type itemContent struct {
	PromotedMetadata json.RawMessage `json:"promotedMetadata"`
	TweetResults     struct {
		Result *tweetResult `json:"result"`
	} `json:"tweet_results"`
}

type tweetResult struct {
	TypeName string       `json:"__typename"`
	RestID   string       `json:"rest_id"`
	Tweet    *tweetResult `json:"tweet"` // TweetWithVisibilityResults wrapper
	Source   string       `json:"source"`
	Core     struct {
		UserResults struct {
			Result struct {
				RestID string `json:"rest_id"`
				Legacy struct {
					ScreenName string `json:"screen_name"`
					Name       string `json:"name"`
				} `json:"legacy"`
			} `json:"result"`
		} `json:"user_results"`
	} `json:"core"`
	Views struct {
		Count string `json:"count"`
	} `json:"views"`
	NoteTweet struct {
		NoteTweetResults struct {
			Result struct {
				Text string `json:"text"`
			} `json:"result"`
		} `json:"note_tweet_results"`
	} `json:"note_tweet"`
	QuotedStatusResult struct {
		Result *tweetResult `json:"result"`
	} `json:"quoted_status_result"`
	Legacy *tweetLegacy `json:"legacy"`
}

type tweetLegacy struct {
	IDStr             string `json:"id_str"`
	FullText          string `json:"full_text"`
	CreatedAt         string `json:"created_at"`
	Lang              string `json:"lang"`
	ConversationID    string `json:"conversation_id_str"`
	InReplyToID       string `json:"in_reply_to_status_id_str"`
	InReplyToUsername string `json:"in_reply_to_screen_name"`

	ReplyCount    int `json:"reply_count"`
	RetweetCount  int `json:"retweet_count"`
	FavoriteCount int `json:"favorite_count"`
	QuoteCount    int `json:"quote_count"`
	BookmarkCount int `json:"bookmark_count"`

	Entities struct {
		URLs []struct {
			ExpandedURL string `json:"expanded_url"`
		} `json:"urls"`
	} `json:"entities"`

	ExtendedEntities struct {
		Media []mediaEntity `json:"media"`
	} `json:"extended_entities"`

	RetweetedStatusResult struct {
		Result *tweetResult `json:"result"`
	} `json:"retweeted_status_result"`
}

type mediaEntity struct {
	Type          string `json:"type"`
	MediaURLHTTPS string `json:"media_url_https"`
	ExtAltText    string `json:"ext_alt_text"`
	VideoInfo     struct {
		DurationMillis int `json:"duration_millis"`
		Variants       []struct {
			ContentType string `json:"content_type"`
			Bitrate     int    `json:"bitrate"`
			URL         string `json:"url"`
		} `json:"variants"`
	} `json:"video_info"`
	OriginalInfo struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"original_info"`
}

// parseUserID extracts the numeric id from a UserByScreenName response.
// An unavailable (banned/private) user yields an empty id, not an error.
func parseUserID(body []byte) (string, error) {
	var resp timelineResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", eris.Wrap(err, "xclient: decode user response")
	}
	result := resp.Data.User.Result
	if result.TypeName == "UserUnavailable" {
		zap.L().Warn("xclient: user unavailable, possibly banned or private")
		return "", nil
	}
	return result.RestID, nil
}

// parseTimeline flattens a UserTweets response into tweets plus the
// bottom cursor. Pinned tweets can repeat in the chronological entries,
// so ids are deduplicated within the page.
func parseTimeline(body []byte) ([]*Tweet, string, error) {
	var resp timelineResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", eris.Wrap(err, "xclient: decode timeline response")
	}

	var (
		tweets []*Tweet
		cursor string
		seen   = map[string]bool{}
	)
	add := func(t *Tweet) {
		if t != nil && !seen[t.ID] {
			seen[t.ID] = true
			tweets = append(tweets, t)
		}
	}

	for _, inst := range resp.Data.User.Result.TimelineV2.Timeline.Instructions {
		switch inst.Type {
		case "TimelineAddEntries":
			for _, entry := range inst.Entries {
				switch {
				case strings.HasPrefix(entry.EntryID, "tweet-"):
					add(parseTweetEntry(entry.Content.ItemContent))
				case strings.HasPrefix(entry.EntryID, "cursor-bottom-"):
					if entry.Content.Value != "" {
						cursor = entry.Content.Value
					}
				case strings.HasPrefix(entry.EntryID, "profile-conversation-"),
					strings.HasPrefix(entry.EntryID, "homeConversation-"):
					// Conversation modules hold thread tweets.
					for _, item := range entry.Content.Items {
						add(parseTweetEntry(item.Item.ItemContent))
					}
				}
			}
		case "TimelinePinEntry":
			if inst.Entry != nil {
				add(parseTweetEntry(inst.Entry.Content.ItemContent))
			}
		}
	}

	return tweets, cursor, nil
}

func parseTweetEntry(ic *itemContent) *Tweet {
	if ic == nil || len(ic.PromotedMetadata) > 0 {
		return nil
	}
	return parseTweetResult(ic.TweetResults.Result)
}

func parseTweetResult(result *tweetResult) *Tweet {
	if result == nil {
		return nil
	}

	switch result.TypeName {
	case "TweetWithVisibilityResults":
		result = result.Tweet
		if result == nil {
			return nil
		}
	case "TweetTombstone", "TweetUnavailable":
		return nil
	}

	legacy := result.Legacy
	if legacy == nil {
		return nil
	}

	id := legacy.IDStr
	if id == "" {
		id = result.RestID
	}

	t := &Tweet{
		ID:        id,
		Text:      extractFullText(result, legacy),
		CreatedAt: parseTweetDate(legacy.CreatedAt),
		Lang:      legacy.Lang,
		Source:    cleanSource(result.Source),

		ConversationID:    legacy.ConversationID,
		InReplyToID:       legacy.InReplyToID,
		InReplyToUsername: legacy.InReplyToUsername,

		UserID:      result.Core.UserResults.Result.RestID,
		Username:    result.Core.UserResults.Result.Legacy.ScreenName,
		DisplayName: result.Core.UserResults.Result.Legacy.Name,

		ReplyCount:    legacy.ReplyCount,
		RetweetCount:  legacy.RetweetCount,
		LikeCount:     legacy.FavoriteCount,
		QuoteCount:    legacy.QuoteCount,
		BookmarkCount: legacy.BookmarkCount,

		URLs:  extractURLs(legacy),
		Media: extractMedia(legacy),
	}

	if result.Views.Count != "" {
		if n, err := strconv.Atoi(result.Views.Count); err == nil {
			t.ViewCount = n
		}
	}

	if rt := legacy.RetweetedStatusResult.Result; rt != nil {
		t.IsRetweet = true
		t.RetweetedTweet = parseTweetResult(rt)
	}
	if qt := result.QuotedStatusResult.Result; qt != nil {
		t.IsQuote = true
		t.QuotedTweet = parseTweetResult(qt)
	}

	return t
}

// extractFullText prefers the long-form note text over the truncated
// legacy full_text.
func extractFullText(result *tweetResult, legacy *tweetLegacy) string {
	if text := result.NoteTweet.NoteTweetResults.Result.Text; text != "" {
		return text
	}
	return legacy.FullText
}

func parseTweetDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timelineDateLayout, s)
	if err != nil {
		zap.L().Debug("xclient: unparseable tweet date", zap.String("date", s))
		return time.Time{}
	}
	return t
}

var sourceRe = regexp.MustCompile(`>(.+?)</a>`)

// cleanSource strips the anchor markup around the publishing client name.
func cleanSource(sourceHTML string) string {
	if sourceHTML == "" {
		return ""
	}
	if m := sourceRe.FindStringSubmatch(sourceHTML); m != nil {
		return m[1]
	}
	return sourceHTML
}

// extractURLs returns the expanded outbound links, dropping the tweet's
// own permalink while keeping links to other statuses.
func extractURLs(legacy *tweetLegacy) []string {
	var urls []string
	for _, u := range legacy.Entities.URLs {
		expanded := u.ExpandedURL
		if expanded == "" {
			continue
		}
		if strings.Contains(expanded, "/status/") &&
			(strings.Contains(expanded, "x.com") || strings.Contains(expanded, "twitter.com")) {
			statusID := expanded[strings.LastIndex(expanded, "/status/")+len("/status/"):]
			statusID, _, _ = strings.Cut(statusID, "?")
			if statusID == legacy.IDStr {
				continue
			}
		}
		urls = append(urls, expanded)
	}
	return urls
}

func extractMedia(legacy *tweetLegacy) []Media {
	var out []Media
	for _, item := range legacy.ExtendedEntities.Media {
		m := Media{
			Type:    item.Type,
			AltText: item.ExtAltText,
			Width:   item.OriginalInfo.Width,
			Height:  item.OriginalInfo.Height,
		}
		switch item.Type {
		case "photo":
			m.URL = item.MediaURLHTTPS
			m.PreviewURL = m.URL
		case "video", "animated_gif":
			best := 0
			for _, v := range item.VideoInfo.Variants {
				if v.ContentType != "video/mp4" {
					continue
				}
				if m.URL == "" || v.Bitrate > best {
					m.URL = v.URL
					best = v.Bitrate
				}
			}
			m.PreviewURL = item.MediaURLHTTPS
			m.DurationMS = item.VideoInfo.DurationMillis
		}
		out = append(out, m)
	}
	return out
}
