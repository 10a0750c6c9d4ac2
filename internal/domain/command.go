package domain

import "encoding/json"

// CommandType names an inbound message sent by a client over the websocket.
type CommandType string

const (
	CommandPublishQuestion CommandType = "publish_question"
	CommandPostAnswer      CommandType = "post_answer"
	CommandVoteQuestion    CommandType = "vote_question"
	CommandVoteAnswer      CommandType = "vote_answer"
	CommandJoinTopic       CommandType = "join_topic"
	CommandLeaveTopic      CommandType = "leave_topic"
)

// Command is the inbound envelope. Data is decoded according to Type.
type Command struct {
	Type CommandType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// publish_question carries a QuestionDraft as its data.

type PostAnswerCommand struct {
	QuestionID int64       `json:"questionId"`
	Answer     AnswerDraft `json:"answer"`
}

type VoteQuestionCommand struct {
	QuestionID int64     `json:"questionId"`
	VoteType   Direction `json:"voteType"`
}

type VoteAnswerCommand struct {
	AnswerID int64     `json:"answerId"`
	VoteType Direction `json:"voteType"`
}

// TopicCommand is the data of join_topic and leave_topic.
type TopicCommand struct {
	QuestionID int64 `json:"questionId"`
}
