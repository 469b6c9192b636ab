package content

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	"homepulse/internal/services/prefs"
	logx "homepulse/pkg/logx"
)

// Type enumerates the notification kinds the generator can render.
type Type string

const (
	TypeTaskReminder       Type = "task_reminder"
	TypeEquipmentService   Type = "equipment_service"
	TypeEquipmentAttention Type = "equipment_attention"
	TypeAchievement        Type = "achievement"
	TypeMoneySaved         Type = "money_saved"
	TypeStreak             Type = "streak"
	TypeSeasonalSuggestion Type = "seasonal_suggestion"
	TypeWeatherOpportunity Type = "weather_opportunity"
)

// Types lists every renderable type.
func Types() []Type {
	return []Type{
		TypeTaskReminder, TypeEquipmentService, TypeEquipmentAttention,
		TypeAchievement, TypeMoneySaved, TypeStreak,
		TypeSeasonalSuggestion, TypeWeatherOpportunity,
	}
}

// Var is a template variable key. The set is closed: templates are
// validated against it at construction.
type Var string

const (
	VarTaskName        Var = "taskName"
	VarDueDate         Var = "dueDate"
	VarDaysLeft        Var = "daysLeft"
	VarEquipmentName   Var = "equipmentName"
	VarAchievementName Var = "achievementName"
	VarAmount          Var = "amount"
	VarStreakDays      Var = "streakDays"
	VarSeason          Var = "season"
	VarWeather         Var = "weather"
	VarHomeName        Var = "homeName"
)

var allowedVars = map[Var]struct{}{
	VarTaskName: {}, VarDueDate: {}, VarDaysLeft: {},
	VarEquipmentName: {}, VarAchievementName: {}, VarAmount: {},
	VarStreakDays: {}, VarSeason: {}, VarWeather: {}, VarHomeName: {},
}

// Vars maps variable keys to rendered values.
type Vars map[Var]string

// Message is a rendered notification.
type Message struct {
	Title string
	Body  string
	Emoji string
	Meta  map[string]string
}

// Context carries the situational signals that influence template
// selection. Season and weather are injected by callers, never fetched.
type Context struct {
	Now     time.Time
	Season  string
	Weather string
}

type template struct {
	title string
	body  string
}

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z]+)\}`)

// Generator renders typed notification content from a validated
// template catalog.
type Generator struct {
	log     logx.Logger
	catalog map[Type][]template
	emoji   map[Type]string

	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator builds a generator over the built-in catalog. Every
// placeholder in every template is checked against the closed variable
// set; an unknown key is a construction error, not a silent strip.
func NewGenerator(log logx.Logger) (*Generator, error) {
	return newGenerator(log, builtinCatalog(), builtinEmoji())
}

func newGenerator(log logx.Logger, catalog map[Type][]template, emoji map[Type]string) (*Generator, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	for typ, variants := range catalog {
		if len(variants) == 0 {
			return nil, fmt.Errorf("type %s has no template variants", typ)
		}
		for i, t := range variants {
			for _, text := range []string{t.title, t.body} {
				for _, m := range placeholderRe.FindAllStringSubmatch(text, -1) {
					if _, ok := allowedVars[Var(m[1])]; !ok {
						return nil, fmt.Errorf("type %s variant %d: unknown variable {%s}", typ, i, m[1])
					}
				}
			}
		}
	}
	return &Generator{
		log:     log,
		catalog: catalog,
		emoji:   emoji,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Seed fixes the variant RNG. Tests only.
func (g *Generator) Seed(seed int64) {
	g.mu.Lock()
	g.rng = rand.New(rand.NewSource(seed))
	g.mu.Unlock()
}

// Generate renders one message for the given type.
//
// Variant selection: morning context favors the first (most energetic)
// variant, a gentle style prefers the last (calmest); otherwise the
// choice is random, so callers must accept any valid variant.
func (g *Generator) Generate(typ Type, vars Vars, rctx Context, style prefs.Style) (Message, error) {
	variants, ok := g.catalog[typ]
	if !ok {
		return Message{}, fmt.Errorf("no templates for type %s", typ)
	}

	// Contextual vars ride along with caller vars.
	merged := make(Vars, len(vars)+2)
	for k, v := range vars {
		merged[k] = v
	}
	if rctx.Season != "" {
		merged[VarSeason] = rctx.Season
	}
	if rctx.Weather != "" {
		merged[VarWeather] = rctx.Weather
	}

	idx := g.pick(len(variants), rctx, style)
	t := variants[idx]
	return Message{
		Title: render(t.title, merged),
		Body:  render(t.body, merged),
		Emoji: g.emoji[typ],
		Meta:  map[string]string{"type": string(typ), "variant": fmt.Sprint(idx)},
	}, nil
}

func (g *Generator) pick(n int, rctx Context, style prefs.Style) int {
	if n == 1 {
		return 0
	}
	if style == prefs.StyleGentle {
		return n - 1
	}
	if !rctx.Now.IsZero() && rctx.Now.Hour() < 12 {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Intn(n)
}

// render substitutes {key} placeholders and strips any placeholder
// whose variable has no value at render time.
func render(text string, vars Vars) string {
	out := placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		key := Var(m[1 : len(m)-1])
		if v, ok := vars[key]; ok {
			return v
		}
		return ""
	})
	// Collapse doubled spaces left by stripped placeholders.
	out = strings.Join(strings.Fields(out), " ")
	return out
}
