package redis

import "fmt"

const markerPrefix = "score-calculated-"

func lobbyKey(lobbyID string) string   { return "lobby:" + lobbyID }
func playersKey(lobbyID string) string { return "lobby:" + lobbyID + ":players" }
func answersKey(lobbyID string) string { return "lobby:" + lobbyID + ":answers" }
func eventsKey(lobbyID string) string  { return "lobby:" + lobbyID + ":events" }

func answerField(questionIndex int, name string) string {
	return fmt.Sprintf("%d-%s", questionIndex, name)
}

func markerField(questionIndex int) string {
	return fmt.Sprintf("%s%d", markerPrefix, questionIndex)
}
