// Package errmsg turns raw provider failure text into messages a user can
// act on. It is the only place allowed to rewrite upstream error text.
package errmsg

import (
	"regexp"
	"strings"

	"golang.org/x/text/language"
)

// Category classifies a raw upstream failure.
type Category string

const (
	CategoryTimeout      Category = "timeout"
	CategoryResource     Category = "resource_exhausted"
	CategoryConnectivity Category = "connectivity"
	CategoryAuth         Category = "auth"
	CategoryServer       Category = "server"
	CategoryGeneric      Category = "generic"
)

// Message is the user-facing rendition of a failure.
type Message struct {
	Category        Category `json:"category"`
	Message         string   `json:"message"`
	SuggestedAction string   `json:"suggested_action"`
}

type rule struct {
	category Category
	needles  []string
	// codes matches HTTP status codes as whole numbers only, so "node 5003"
	// or "1403px" do not count.
	codes *regexp.Regexp
}

// Order matters: "workflow execution timeout" must classify as a timeout.
var rules = []rule{
	{CategoryTimeout, []string{"timeout", "timed out", "deadline exceeded", "超时"}, nil},
	{CategoryResource, []string{"out of memory", "memory", "insufficient resources", "gpu", "显存", "内存", "资源不足"}, nil},
	{CategoryConnectivity, []string{"network", "connection", "econnreset", "unreachable", "dns", "网络", "连接"}, nil},
	{CategoryAuth, []string{"unauthorized", "api key", "apikey", "forbidden", "认证", "鉴权"}, regexp.MustCompile(`\b40[13]\b`)},
	{CategoryServer, []string{"workflow", "工作流", "server error", "internal error", "服务器"}, regexp.MustCompile(`\b50[023]\b`)},
}

type text struct {
	message string
	action  string
}

var catalogs = map[string]map[Category]text{
	"pt": {
		CategoryTimeout:      {"Processamento demorou muito", "Tente novamente com uma imagem menor ou aguarde alguns minutos."},
		CategoryResource:     {"Servidor sobrecarregado no momento", "Aguarde alguns minutos e tente novamente."},
		CategoryConnectivity: {"Falha de conexão com o servidor de processamento", "Verifique sua conexão e tente novamente."},
		CategoryAuth:         {"Falha de autenticação com o serviço de geração", "Entre em contato com o suporte."},
		CategoryServer:       {"Servidor temporariamente indisponível", "Tente novamente em alguns minutos."},
		CategoryGeneric:      {"Erro ao processar sua solicitação", "Tente novamente. Se o problema persistir, contate o suporte."},
	},
	"en": {
		CategoryTimeout:      {"Processing took too long", "Try again with a smaller image or wait a few minutes."},
		CategoryResource:     {"The server is overloaded right now", "Wait a few minutes and try again."},
		CategoryConnectivity: {"Could not reach the processing server", "Check your connection and try again."},
		CategoryAuth:         {"Authentication with the generation service failed", "Please contact support."},
		CategoryServer:       {"Server temporarily unavailable", "Try again in a few minutes."},
		CategoryGeneric:      {"Something went wrong while processing your request", "Try again. If the problem persists, contact support."},
	},
}

// DefaultLocale is used when no locale is given or matched.
const DefaultLocale = "pt"

var (
	supported = []language.Tag{language.BrazilianPortuguese, language.English}
	matcher   = language.NewMatcher(supported)
)

// Classify returns the category of a raw provider message.
func Classify(raw string) Category {
	lower := strings.ToLower(strings.TrimSpace(raw))
	if lower == "" {
		return CategoryGeneric
	}
	for _, r := range rules {
		for _, needle := range r.needles {
			if strings.Contains(lower, needle) {
				return r.category
			}
		}
		if r.codes != nil && r.codes.MatchString(lower) {
			return r.category
		}
	}
	return CategoryGeneric
}

// Translate renders raw in the default locale.
func Translate(raw string) Message {
	return TranslateFor(DefaultLocale, raw)
}

// TranslateFor renders raw in the closest supported locale.
func TranslateFor(locale, raw string) Message {
	category := Classify(raw)
	t := catalogs[MatchLocale(locale)][category]
	return Message{Category: category, Message: t.message, SuggestedAction: t.action}
}

// MatchLocale maps a free-form locale ("pt-BR", "en_US", "id") to a
// supported catalog key.
func MatchLocale(locale string) string {
	locale = strings.ReplaceAll(strings.TrimSpace(locale), "_", "-")
	if locale == "" {
		return DefaultLocale
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return DefaultLocale
	}
	_, idx, confidence := matcher.Match(tag)
	if confidence == language.No {
		return DefaultLocale
	}
	base, _ := supported[idx].Base()
	return base.String()
}
