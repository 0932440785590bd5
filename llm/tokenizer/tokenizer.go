package tokenizer

import "strings"

// Tokenizer 统一的 token 计数接口
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数
	CountTokens(text string) (int, error)

	// CountMessages 返回消息列表的总 token 数，包括每条消息的角色与分隔符开销
	CountMessages(messages []Message) (int, error)

	// MaxTokens 返回模型的最大上下文长度
	MaxTokens() int

	// Name 返回分词器名称
	Name() string
}

// Message 是 tokenizer 包使用的轻量消息结构，避免与 llm 包循环依赖
type Message struct {
	Role    string
	Content string
}

// ForModel 为 OpenAI 系列模型返回 tiktoken 分词器，其他模型返回字符估算器
func ForModel(model string) Tokenizer {
	if _, ok := lookupEncoding(model); ok {
		return NewTiktokenTokenizer(model)
	}
	if strings.HasPrefix(model, "gpt-") || strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3") {
		return NewTiktokenTokenizer(model)
	}
	return NewEstimatorTokenizer(model, 0)
}
