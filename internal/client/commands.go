package client

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pscheid92/askpulse/internal/domain"
)

func (c *Client) PublishQuestion(draft domain.QuestionDraft) error {
	return c.send(domain.CommandPublishQuestion, draft)
}

// PostAnswer stamps the submission time when the draft carries none, so a
// resend of the same draft is recognised as a duplicate by the server.
func (c *Client) PostAnswer(questionID int64, draft domain.AnswerDraft) error {
	if draft.SubmittedAt.IsZero() {
		draft.SubmittedAt = c.clock.Now().Truncate(time.Millisecond)
	}
	return c.send(domain.CommandPostAnswer, domain.PostAnswerCommand{QuestionID: questionID, Answer: draft})
}

func (c *Client) VoteQuestion(questionID int64, dir domain.Direction) error {
	return c.send(domain.CommandVoteQuestion, domain.VoteQuestionCommand{QuestionID: questionID, VoteType: dir})
}

func (c *Client) VoteAnswer(answerID int64, dir domain.Direction) error {
	return c.send(domain.CommandVoteAnswer, domain.VoteAnswerCommand{AnswerID: answerID, VoteType: dir})
}

// JoinTopic subscribes to scoped events of a question. Joined topics are
// re-joined automatically after a reconnect.
func (c *Client) JoinTopic(questionID int64) error {
	if err := c.send(domain.CommandJoinTopic, domain.TopicCommand{QuestionID: questionID}); err != nil {
		return err
	}
	c.mu.Lock()
	c.topics[questionID] = struct{}{}
	c.mu.Unlock()
	return nil
}

func (c *Client) LeaveTopic(questionID int64) error {
	c.mu.Lock()
	delete(c.topics, questionID)
	c.mu.Unlock()
	return c.send(domain.CommandLeaveTopic, domain.TopicCommand{QuestionID: questionID})
}

func (c *Client) send(cmdType domain.CommandType, payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return domain.ErrNotConnected
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", cmdType, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(domain.Command{Type: cmdType, Data: data}); err != nil {
		return fmt.Errorf("failed to send %s: %w", cmdType, err)
	}
	return nil
}
