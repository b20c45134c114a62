// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type Id int

const (
	ManifestNotFoundId Id = iota + 1
	ManifestParseErrorId
	ActionNotFoundId
	ContainerEngineNotFoundId
	DockerfileNotFoundId
	ImageBuildFailedId
	InvalidArgumentsId
	InvalidEnvironmentId
	ContainerStoppedId
	ActionFailedId
	ConfigLoadFailedId
	UIServerStartFailedId
	PermissionDeniedId
)

type MarkdownMsg string

type HttpLink string

type Renderer interface {
	Render(in string, stylePath string) (string, error)
}

type Issue struct {
	id       Id          // ID used to lookup the issue
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	docLinks []HttpLink
	extLinks []HttpLink // external links that might be useful for the user
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

func (i *Issue) Render(stylePath string) (string, error) {
	extraMd := ""
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		extraMd += "\n\n## See also:\n"
		for _, link := range i.docLinks {
			extraMd += "- [" + string(link) + "](" + string(link) + ")\n"
		}
		for _, link := range i.extLinks {
			extraMd += "- [" + string(link) + "](" + string(link) + ")\n"
		}
	}
	return render(string(i.mdMsg)+extraMd, stylePath)
}

var (
	render = glamour.Render

	manifestNotFoundIssue = &Issue{
		id: ManifestNotFoundId,
		mdMsg: `
# No microservice.yml found!

msrun reads the manifest from the microservice directory.

## Things you can try:
- Run msrun from the directory holding your ` + "`Dockerfile`" + ` and ` + "`microservice.yml`" + `
- Point msrun at another directory:
~~~
$ msrun --dir ./services/payments exec charge amount=3
~~~

## Minimal manifest:
~~~yaml
omg: 1
actions:
  hello:
    format:
      command: python app.py hello
    arguments:
      name:
        type: string
        required: true
~~~`,
		extLinks: []HttpLink{"https://microservice.guide"},
	}

	manifestParseErrorIssue = &Issue{
		id: ManifestParseErrorId,
		mdMsg: `
# Failed to parse microservice.yml!

The manifest is not valid YAML or does not match the expected structure.

## Common mistakes:
- Argument or variable types outside of int, float, string, uuid, list, map, object, boolean and path
- A variable that is both ` + "`required`" + ` and has a ` + "`default`" + `
- An action without ` + "`format.command`" + ` and without ` + "`events`" + `
- Tabs used for indentation

## Things you can try:
~~~
$ msrun validate
~~~`,
	}

	actionNotFoundIssue = &Issue{
		id: ActionNotFoundId,
		mdMsg: `
# Action not found!

The action you asked for is not declared under ` + "`actions`" + ` in microservice.yml.

## Things you can try:
- List the declared actions:
~~~
$ msrun validate
~~~
- Check the spelling; action names are case-sensitive`,
	}

	containerEngineNotFoundIssue = &Issue{
		id: ContainerEngineNotFoundId,
		mdMsg: `
# Container engine not found!

msrun builds and runs the microservice with Docker or Podman, and neither answered.

## Things you can try:
- Install Docker: https://docs.docker.com/get-docker/
- Or install Podman: https://podman.io/getting-started/installation
- Make sure the daemon is running:
~~~
$ docker info
~~~
- Select the engine explicitly:
~~~yaml
container_engine: podman
~~~`,
	}

	dockerfileNotFoundIssue = &Issue{
		id: DockerfileNotFoundId,
		mdMsg: `
# Dockerfile not found!

The image is built from the Dockerfile in the microservice directory.

## Things you can try:
- Create a ` + "`Dockerfile`" + ` next to microservice.yml
- Or point at a different file:
~~~yaml
build:
  dockerfile: Dockerfile.dev
~~~`,
	}

	imageBuildFailedIssue = &Issue{
		id: ImageBuildFailedId,
		mdMsg: `
# Image build failed!

The container engine could not build the microservice image.

## Things you can try:
- Read the build output above for the failing step
- Build by hand to reproduce it:
~~~
$ docker build .
~~~
- Network failures while pulling base images are often transient; try again`,
	}

	invalidArgumentsIssue = &Issue{
		id: InvalidArgumentsId,
		mdMsg: `
# Invalid action arguments!

Arguments are passed as ` + "`name=value`" + ` pairs and cast to the types declared in microservice.yml.

## Things you can try:
- Supply every required argument
- Quote JSON values for list and object arguments:
~~~
$ msrun exec tom 'bar={"foo":"bar"}' foo=3
~~~`,
	}

	invalidEnvironmentIssue = &Issue{
		id: InvalidEnvironmentId,
		mdMsg: `
# Invalid environment variables!

Environment variables declared under ` + "`environment`" + ` are passed to the container when it starts.

## Things you can try:
- Pass them with ` + "`-e`" + `:
~~~
$ msrun exec steve -e TOKEN=secret
~~~
- Names are matched case-insensitively against the manifest`,
	}

	containerStoppedIssue = &Issue{
		id: ContainerStoppedId,
		mdMsg: `
# Container unexpectedly stopped!

The microservice container exited while msrun was watching it.

## Things you can try:
- Check the container logs printed above
- Make sure the startup command keeps running in the foreground`,
	}

	actionFailedIssue = &Issue{
		id: ActionFailedId,
		mdMsg: `
# Action failed!

The command exited with a non-zero status inside the container.

## Things you can try:
- Run with ` + "`--verbose`" + ` to see the composed command line
- Print the command without running it:
~~~
$ msrun exec steve --dry-run
~~~`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

The msrun configuration file could not be read.

## Things you can try:
- Check the YAML syntax of your config file
- Print the effective configuration:
~~~
$ msrun config show
~~~
- Remove the file to fall back to defaults`,
	}

	uiServerStartFailedIssue = &Issue{
		id: UIServerStartFailedId,
		mdMsg: `
# Failed to start the UI server!

The HTTP server for the interactive UI could not listen.

## Things you can try:
- Choose another address:
~~~
$ msrun ui --addr 127.0.0.1:9090
~~~
- Stop the process already bound to the port`,
	}

	permissionDeniedIssue = &Issue{
		id: PermissionDeniedId,
		mdMsg: `
# Permission denied!

The container engine refused the request.

## Things you can try:
- Add your user to the docker group:
~~~
$ sudo usermod -aG docker $USER
~~~
- Use rootless Podman`,
	}

	issues = map[Id]*Issue{
		manifestNotFoundIssue.Id():        manifestNotFoundIssue,
		manifestParseErrorIssue.Id():      manifestParseErrorIssue,
		actionNotFoundIssue.Id():          actionNotFoundIssue,
		containerEngineNotFoundIssue.Id(): containerEngineNotFoundIssue,
		dockerfileNotFoundIssue.Id():      dockerfileNotFoundIssue,
		imageBuildFailedIssue.Id():        imageBuildFailedIssue,
		invalidArgumentsIssue.Id():        invalidArgumentsIssue,
		invalidEnvironmentIssue.Id():      invalidEnvironmentIssue,
		containerStoppedIssue.Id():        containerStoppedIssue,
		actionFailedIssue.Id():            actionFailedIssue,
		configLoadFailedIssue.Id():        configLoadFailedIssue,
		uiServerStartFailedIssue.Id():     uiServerStartFailedIssue,
		permissionDeniedIssue.Id():        permissionDeniedIssue,
	}
)

func Values() []*Issue {
	return maps.Values(issues)
}

func Get(id Id) *Issue {
	return issues[id]
}
