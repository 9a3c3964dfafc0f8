package builders

import (
	"github.com/cpuguy83/dockercfg"
	"github.com/distribution/reference"

	"github.com/poltergeist/dockerstage/pkg/engine"
)

// dockerHubAuthKey is the key the Docker CLI stores Docker Hub credentials under
const dockerHubAuthKey = "https://index.docker.io/v1/"

// CredentialLookup returns push credentials for a registry host, or nil to
// push anonymously.
type CredentialLookup func(registryHost string) (*engine.Credentials, error)

// DockerConfigCredentials reads credentials the way the Docker CLI does: from
// ~/.docker/config.json, including credential helpers.
func DockerConfigCredentials(registryHost string) (*engine.Credentials, error) {
	key := registryHost
	if key == "docker.io" || key == "index.docker.io" {
		key = dockerHubAuthKey
	}

	username, secret, err := dockercfg.GetRegistryCredentials(key)
	if err != nil {
		return nil, err
	}
	if username == "" && secret == "" {
		return nil, nil
	}

	creds := &engine.Credentials{ServerAddress: key}
	// Helpers return an empty username together with an identity token
	if username == "" {
		creds.IdentityToken = secret
	} else {
		creds.Username = username
		creds.Password = secret
	}
	return creds, nil
}

// AnonymousCredentials never returns credentials
func AnonymousCredentials(string) (*engine.Credentials, error) {
	return nil, nil
}

// registryHost returns the registry part of an image name, "docker.io" when
// the name has none.
func registryHost(imageName string) string {
	named, err := reference.ParseNormalizedNamed(imageName)
	if err != nil {
		return ""
	}
	return reference.Domain(named)
}
