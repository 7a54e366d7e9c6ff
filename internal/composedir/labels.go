package composedir

import (
	"fmt"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"

	"github.com/factorial-io/scotty-sub002/internal/apierr"
	"github.com/factorial-io/scotty-sub002/internal/model"
)

// RenderLabels parses raw compose YAML, adds Traefik routing labels for
// every declared public service plus the app's basic-auth/robots
// middlewares, and returns the re-marshaled bytes. Scotty never talks to
// Traefik itself; it only writes the labels Traefik's own docker provider
// watches for.
func RenderLabels(appName string, composeYAML []byte, settings model.AppSettings) ([]byte, error) {
	project, err := loader.Load(types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{{Filename: "docker-compose.yml", Content: composeYAML}},
	}, func(o *loader.Options) {
		o.SkipValidation = true
		o.SkipNormalization = true
	})
	if err != nil {
		return nil, apierr.Wrap(apierr.Validation, "parse compose file", err)
	}
	project.Name = appName

	for i := range project.Services {
		svc := &project.Services[i]
		for _, ps := range settings.PublicServices {
			if ps.Service != svc.Name {
				continue
			}
			if svc.Labels == nil {
				svc.Labels = types.Labels{}
			}
			router := fmt.Sprintf("scotty-%s-%s", appName, svc.Name)
			svc.Labels = svc.Labels.
				Add("traefik.enable", "true").
				Add(fmt.Sprintf("traefik.http.routers.%s.rule", router), hostRule(ps.Domains)).
				Add(fmt.Sprintf("traefik.http.services.%s.loadbalancer.server.port", router), fmt.Sprintf("%d", ps.Port))

			middlewares := append([]string{}, settings.Middlewares...)
			if settings.BasicAuth != nil {
				mw := router + "-auth"
				svc.Labels = svc.Labels.Add(fmt.Sprintf("traefik.http.middlewares.%s.basicauth.users", mw),
					settings.BasicAuth.Username+":"+settings.BasicAuth.Password.Reveal())
				middlewares = append(middlewares, mw)
			}
			if settings.DisallowRobots {
				mw := router + "-robots"
				svc.Labels = svc.Labels.Add(fmt.Sprintf("traefik.http.middlewares.%s.headers.customresponseheaders.X-Robots-Tag", mw), "noindex, nofollow")
				middlewares = append(middlewares, mw)
			}
			if len(middlewares) > 0 {
				svc.Labels = svc.Labels.Add(fmt.Sprintf("traefik.http.routers.%s.middlewares", router), strings.Join(middlewares, ","))
			}
		}
	}

	out, err := yaml.Marshal(project)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "marshal labeled compose file", err)
	}
	return out, nil
}

func hostRule(domains []string) string {
	parts := make([]string, len(domains))
	for i, d := range domains {
		parts[i] = fmt.Sprintf("Host(`%s`)", d)
	}
	return strings.Join(parts, " || ")
}
