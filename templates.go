package main

import (
	"embed"
	"strings"
)

//go:embed templates/*
var templatesFS embed.FS

func getTemplate(name string, vars map[string]string) string {
	data, err := templatesFS.ReadFile("templates/" + name)
	if err != nil {
		panic("template not found: " + name)
	}

	content := string(data)
	for key, value := range vars {
		content = strings.ReplaceAll(content, "{{"+key+"}}", value)
	}
	return content
}

func getExampleJourney(id string) []byte {
	return []byte(getTemplate("journey.md", map[string]string{"id": id}))
}

func renderSpecScaffold(journeyPath, title, tags, importsBlock, headerBlock, stepBlocks string) string {
	return getTemplate("spec.ts", map[string]string{
		"journeyPath":  journeyPath,
		"title":        title,
		"tags":         tags,
		"importsBlock": importsBlock,
		"headerBlock":  headerBlock,
		"stepBlocks":   stepBlocks,
	})
}

func renderModuleScaffold(scope, moduleBlocks string) string {
	return getTemplate("module.ts", map[string]string{
		"scope":        scope,
		"moduleBlocks": moduleBlocks,
	})
}
