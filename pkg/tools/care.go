package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"airose/pkg/api"
	"airose/pkg/search"

	"github.com/mitchellh/mapstructure"
)

// Care tool names as seen by the model.
const (
	AlertCNA         = "alert_cna"
	AlertFamily      = "alert_family"
	RecommendClasses = "recommend_classes"
	EnrollClass      = "enroll_class"
	RecommendVideos  = "recommend_videos"
	PlayVideo        = "play_video"
	SemanticSearch   = "semantic_search"
)

// Alert targets.
const (
	TargetCNA    = "cna"
	TargetFamily = "family"
)

// Alert is a red flag escalated to a care-giver.
type Alert struct {
	ConversationID string    `json:"conversation_id"`
	Target         string    `json:"target"`
	RedFlag        string    `json:"red_flag"`
	At             time.Time `json:"at"`
}

// Activity records an enrollment or a playback request.
type Activity struct {
	ConversationID string    `json:"conversation_id"`
	Kind           string    `json:"kind"` // "enroll" | "play"
	ItemID         string    `json:"item_id"`
	At             time.Time `json:"at"`
}

// Notifier delivers alerts to care-givers.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// Activities books classes and starts videos.
type Activities interface {
	Enroll(ctx context.Context, conversationID, classID string) error
	Play(ctx context.Context, conversationID, videoID string) error
}

// Recorder is the default Notifier and Activities: it logs every event and
// keeps it in memory.
type Recorder struct {
	mu         sync.Mutex
	alerts     []Alert
	activities []Activity
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Notify(ctx context.Context, alert Alert) error {
	slog.WarnContext(ctx, "Care alert raised", "target", alert.Target, "red_flag", alert.RedFlag, "conversation", alert.ConversationID)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return nil
}

func (r *Recorder) Enroll(ctx context.Context, conversationID, classID string) error {
	return r.record(ctx, Activity{ConversationID: conversationID, Kind: "enroll", ItemID: classID, At: time.Now()})
}

func (r *Recorder) Play(ctx context.Context, conversationID, videoID string) error {
	return r.record(ctx, Activity{ConversationID: conversationID, Kind: "play", ItemID: videoID, At: time.Now()})
}

func (r *Recorder) record(ctx context.Context, a Activity) error {
	slog.InfoContext(ctx, "Activity recorded", "kind", a.Kind, "item", a.ItemID, "conversation", a.ConversationID)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activities = append(r.activities, a)
	return nil
}

// Alerts returns a copy of every alert raised so far.
func (r *Recorder) Alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Alert(nil), r.alerts...)
}

// Activities returns a copy of every activity recorded so far.
func (r *Recorder) Activities() []Activity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Activity(nil), r.activities...)
}

// CareDeps wires the care tools to their collaborators.
type CareDeps struct {
	Notifier   Notifier
	Activities Activities
	// Searcher backs the recommend and semantic_search tools. May be nil.
	Searcher search.Searcher
	// TopK is the passage count per search. Default 3.
	TopK int
}

type redFlagArgs struct {
	RedFlag string `mapstructure:"redFlag"`
}

type userQueryArgs struct {
	UserQuery string `mapstructure:"userQuery"`
}

type classArgs struct {
	ClassID string `mapstructure:"classId"`
}

type videoArgs struct {
	VideoID string `mapstructure:"videoId"`
}

type searchArgs struct {
	Query      string `mapstructure:"query"`
	Collection string `mapstructure:"collection"`
}

func decode(args map[string]any, out any) error {
	if err := mapstructure.Decode(args, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	return nil
}

// CareTools builds every tool the care responders use.
func CareTools(d CareDeps) []api.Tool {
	if d.TopK <= 0 {
		d.TopK = 3
	}
	redFlag := Schema{{
		Name:        "redFlag",
		Type:        TypeString,
		Description: "The red flag detected in the conversation, e.g. bleeding, fever, thoughts of self-harm",
		Required:    true,
	}}
	userQuery := Schema{{
		Name:        "userQuery",
		Type:        TypeString,
		Description: "What the user is looking for, in their own words",
		Required:    true,
	}}

	return []api.Tool{
		NewFunc(AlertCNA,
			"Alert CNA if there is a red flag (i.e: bleeding, fever, sick etc.) in user conversation.",
			redFlag, d.alert(TargetCNA, "CNA")),
		NewFunc(AlertFamily,
			"Alert family if there is a red flag (i.e: bleeding, fever, sick etc.) in user conversation.",
			redFlag, d.alert(TargetFamily, "family")),
		NewFunc(RecommendClasses,
			"Recommend some classes to user for their needs mentioned in userQuery.",
			userQuery, d.recommend(search.CollectionClasses, "class")),
		NewFunc(EnrollClass,
			"Enroll the user in the class with the given class id.",
			Schema{{Name: "classId", Type: TypeString, Description: "Id of the class to enroll in", Required: true}},
			d.enroll),
		NewFunc(RecommendVideos,
			"Recommend some videos to user for their needs mentioned in userQuery.",
			userQuery, d.recommend(search.CollectionVideos, "video")),
		NewFunc(PlayVideo,
			"Start playback of the video with the given video id.",
			Schema{{Name: "videoId", Type: TypeString, Description: "Id of the video to play", Required: true}},
			d.play),
		NewFunc(SemanticSearch,
			"Semantic search in the given collection with the given query.",
			Schema{
				{Name: "query", Type: TypeString, Description: "The question to look up", Required: true},
				{Name: "collection", Type: TypeString, Description: "Collection to search", Required: true,
					Enum: []string{search.CollectionHealthDocuments, search.CollectionClasses, search.CollectionVideos}},
			},
			d.semanticSearch),
	}
}

// NewCareRegistry registers every care tool in a fresh registry.
func NewCareRegistry(d CareDeps) (*ToolRegistry, error) {
	reg := NewToolRegistry()
	for _, t := range CareTools(d) {
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (d CareDeps) alert(target, label string) HandlerFunc {
	return func(ctx context.Context, args map[string]any) (string, error) {
		var in redFlagArgs
		if err := decode(args, &in); err != nil {
			return "", err
		}
		if d.Notifier != nil {
			err := d.Notifier.Notify(ctx, Alert{
				ConversationID: ConversationID(ctx),
				Target:         target,
				RedFlag:        in.RedFlag,
				At:             time.Now(),
			})
			if err != nil {
				return "", fmt.Errorf("alert %s: %w", label, err)
			}
		}
		return fmt.Sprintf("%s is sent to alert %s.", in.RedFlag, label), nil
	}
}

func (d CareDeps) recommend(collection, noun string) HandlerFunc {
	return func(ctx context.Context, args map[string]any) (string, error) {
		var in userQueryArgs
		if err := decode(args, &in); err != nil {
			return "", err
		}
		if d.Searcher == nil {
			return "", fmt.Errorf("%s search is not configured", noun)
		}
		passages, err := d.Searcher.Search(ctx, in.UserQuery, collection, d.TopK)
		if err != nil {
			return "", err
		}
		if len(passages) == 0 {
			return fmt.Sprintf("No %s found for %q.", collection, in.UserQuery), nil
		}
		parts := make([]string, len(passages))
		for i, p := range passages {
			parts[i] = fmt.Sprintf("%s id %s, title %s", noun, p.ID, p.Title)
			if p.Text != "" && p.Text != p.Title {
				parts[i] += ", " + p.Text
			}
		}
		return strings.Join(parts, "; "), nil
	}
}

func (d CareDeps) enroll(ctx context.Context, args map[string]any) (string, error) {
	var in classArgs
	if err := decode(args, &in); err != nil {
		return "", err
	}
	if d.Activities != nil {
		if err := d.Activities.Enroll(ctx, ConversationID(ctx), in.ClassID); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("User is enrolled in class %s", in.ClassID), nil
}

func (d CareDeps) play(ctx context.Context, args map[string]any) (string, error) {
	var in videoArgs
	if err := decode(args, &in); err != nil {
		return "", err
	}
	if d.Activities != nil {
		if err := d.Activities.Play(ctx, ConversationID(ctx), in.VideoID); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("playing video with id %s", in.VideoID), nil
}

func (d CareDeps) semanticSearch(ctx context.Context, args map[string]any) (string, error) {
	var in searchArgs
	if err := decode(args, &in); err != nil {
		return "", err
	}
	if d.Searcher == nil {
		return "", fmt.Errorf("semantic search is not configured")
	}
	passages, err := d.Searcher.Search(ctx, in.Query, in.Collection, d.TopK)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "results for %s with query %s::", in.Collection, in.Query)
	if len(passages) == 0 {
		sb.WriteString(" no matching passages")
	}
	for _, p := range passages {
		fmt.Fprintf(&sb, "\n- %s", p.Text)
		if p.Source != "" {
			fmt.Fprintf(&sb, " (source: %s)", p.Source)
		}
	}
	return sb.String(), nil
}

type ctxKey struct{}

// WithConversationID tags ctx with the conversation a tool call belongs to.
func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// ConversationID returns the conversation id carried by ctx, if any.
func ConversationID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
