package config

type GoogleConfig interface {
	GetGoogleIssuer() string
	GetGoogleClientID() string
	GetGoogleClientSecret() string
	GetGoogleRedirectURL() string
}

type Google struct {
	Issuer       string `yaml:"issuer" env:"GOOGLE_ISSUER" env-default:"https://accounts.google.com"`
	ClientID     string `yaml:"client_id" env:"GOOGLE_CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"GOOGLE_CLIENT_SECRET"`
	RedirectURL  string `yaml:"redirect_url" env:"GOOGLE_REDIRECT_URL" env-default:"http://127.0.0.1:8765/callback"`
}

var _ GoogleConfig = Google{}

func (g Google) GetGoogleIssuer() string {
	if g.Issuer == "" {
		return "https://accounts.google.com"
	}
	return g.Issuer
}

func (g Google) GetGoogleClientID() string {
	return g.ClientID
}

func (g Google) GetGoogleClientSecret() string {
	return g.ClientSecret
}

func (g Google) GetGoogleRedirectURL() string {
	return g.RedirectURL
}
