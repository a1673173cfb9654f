// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/slices"
)

// Id identifies a catalog entry.
type Id int

const (
	DefinitionNotFoundId Id = iota + 1
	DefinitionParseErrorId
	InvalidDefinitionId
	ContainerEngineNotFoundId
	BaseImageUnavailableId
	PackageManagerFailedId
	UserCreationFailedId
	FileCopyFailedId
	ConfigLoadFailedId
	PermissionDeniedId
	SessionServerFailedId
)

type MarkdownMsg string

type HttpLink string

// Issue is a catalog entry: Markdown guidance plus reference links.
type Issue struct {
	id       Id
	mdMsg    MarkdownMsg
	docLinks []HttpLink
	extLinks []HttpLink
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

// Markdown returns the full document, including a "See also" list when the
// issue has links.
func (i *Issue) Markdown() string {
	var b strings.Builder
	b.WriteString(string(i.mdMsg))
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		b.WriteString("\n\n## See also\n")
		for _, link := range append(slices.Clone(i.docLinks), i.extLinks...) {
			b.WriteString("- <" + string(link) + ">\n")
		}
	}
	return b.String()
}

// Render renders the issue for a terminal. stylePath is a glamour style name
// ("dark", "light", "notty") or a path to a JSON style.
func (i *Issue) Render(stylePath string) (string, error) {
	return render(i.Markdown(), stylePath)
}

var (
	render = glamour.Render

	definitionNotFoundIssue = &Issue{
		id: DefinitionNotFoundId,
		mdMsg: `
# Image definition not found!

The definition file passed to imagesmith does not exist or cannot be read.

## Things you can try:
- Check the path and the file extension (.cue or .toml)
- Build the built-in shell practice image instead:
~~~
$ imagesmith build
~~~

- Print the built-in definition as a starting point:
~~~
$ imagesmith render --definition-source > lab.cue
~~~`,
	}

	definitionParseErrorIssue = &Issue{
		id: DefinitionParseErrorId,
		mdMsg: `
# Failed to parse the image definition!

The file is not valid CUE or TOML, or it does not match the definition schema.

## Things you can try:
- Validate the file and read the reported field paths:
~~~
$ imagesmith validate lab.cue
~~~

- Every step needs a ` + "`kind`" + `, one of: install_packages, reinstall_packages,
  create_user, copy_files, set_env, set_workdir, run, set_command
- CUE files that use build arguments must declare them:
~~~cue
args: {username: string, password: string}
~~~`,
	}

	invalidDefinitionIssue = &Issue{
		id: InvalidDefinitionId,
		mdMsg: `
# The image definition is invalid!

The definition parsed, but a value or the step order is not allowed.

## Common causes:
- More than one create_user step
- set_command is not the last step
- A step uses the provisioned account before create_user runs
- Output tags carrying a digest (@sha256:...)

## Things you can try:
- Move create_user before any step that copies files to the user's home,
  runs as the user, or sets the working directory inside it
- Run ` + "`imagesmith plan`" + ` to see the steps in order`,
	}

	containerEngineNotFoundIssue = &Issue{
		id: ContainerEngineNotFoundId,
		mdMsg: `
# No container engine available!

imagesmith drives Docker or Podman through their command line tools.

## Things you can try:
- Install Docker or Podman and make sure the binary is on your PATH
- Check that the daemon (or Podman service) is running:
~~~
$ docker version
$ podman version
~~~

- Select the engine explicitly:
~~~
$ imagesmith build --engine podman
~~~`,
		extLinks: []HttpLink{
			"https://docs.docker.com/get-docker/",
			"https://podman.io/getting-started/installation",
		},
	}

	baseImageUnavailableIssue = &Issue{
		id: BaseImageUnavailableId,
		mdMsg: `
# Base image unavailable!

The base image could not be pulled or resolved.

## Things you can try:
- Check the image name and tag, for example ` + "`ubuntu:22.04`" + `
- Log in to private registries with ` + "`docker login`" + `
- Retry later if the registry rate-limited you`,
	}

	packageManagerFailedIssue = &Issue{
		id: PackageManagerFailedId,
		mdMsg: `
# Package installation failed!

The package manager inside the image exited with an error.

## Common causes:
- A package name that does not exist in the base image's repositories
- No network access from the build container
- A base image whose package manager is not the configured one

## Things you can try:
- Check the package names for the base distribution
- Select the package manager that matches the base image:
~~~
$ imagesmith build --package-manager dnf
~~~`,
	}

	userCreationFailedIssue = &Issue{
		id: UserCreationFailedId,
		mdMsg: `
# User creation failed!

The account could not be created in the image.

## Common causes:
- The username already exists in the base image
- A supplementary group does not exist
- The base image has no useradd or chpasswd

## Things you can try:
- Choose another name:
~~~
$ imagesmith build --build-arg username=learner
~~~

- Install the packages providing the groups before create_user`,
	}

	fileCopyFailedIssue = &Issue{
		id: FileCopyFailedId,
		mdMsg: `
# File copy failed!

A copy_files source could not be read or copied into the image.

## Things you can try:
- Source paths are resolved relative to the definition file and may not
  escape its directory
- Check that the destination is an absolute path
- Make sure the owner account exists when the copy runs`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

The configuration file exists but could not be read or is invalid.

## Things you can try:
- Show where imagesmith looks for its configuration:
~~~
$ imagesmith config path
~~~

- Write a fresh default configuration:
~~~
$ imagesmith config init --force
~~~`,
	}

	permissionDeniedIssue = &Issue{
		id: PermissionDeniedId,
		mdMsg: `
# Permission denied!

You don't have permission to talk to the container engine or read a file.

## Things you can try:
- Add yourself to the docker group:
~~~
$ sudo usermod -aG docker $USER
~~~

- Use rootless Podman instead`,
	}

	sessionServerFailedIssue = &Issue{
		id: SessionServerFailedId,
		mdMsg: `
# Session server failed to start!

The SSH session server could not listen on the requested address.

## Things you can try:
- Pick a free port with ` + "`--listen :2223`" + `
- Check that the host key path is writable`,
	}

	issues = map[Id]*Issue{
		definitionNotFoundIssue.Id():      definitionNotFoundIssue,
		definitionParseErrorIssue.Id():    definitionParseErrorIssue,
		invalidDefinitionIssue.Id():       invalidDefinitionIssue,
		containerEngineNotFoundIssue.Id(): containerEngineNotFoundIssue,
		baseImageUnavailableIssue.Id():    baseImageUnavailableIssue,
		packageManagerFailedIssue.Id():    packageManagerFailedIssue,
		userCreationFailedIssue.Id():      userCreationFailedIssue,
		fileCopyFailedIssue.Id():          fileCopyFailedIssue,
		configLoadFailedIssue.Id():        configLoadFailedIssue,
		permissionDeniedIssue.Id():        permissionDeniedIssue,
		sessionServerFailedIssue.Id():     sessionServerFailedIssue,
	}
)

// Values returns every catalog entry ordered by Id.
func Values() []*Issue {
	out := make([]*Issue, 0, len(issues))
	for _, i := range issues {
		out = append(out, i)
	}
	slices.SortFunc(out, func(a, b *Issue) int { return int(a.id) - int(b.id) })
	return out
}

func Get(id Id) *Issue {
	return issues[id]
}
