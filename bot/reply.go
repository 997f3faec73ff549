package bot

// ReplyType 标记回复的种类。每次调用恰好产生一个 Reply。
type ReplyType string

const (
	ReplyTypeText     ReplyType = "TEXT"      // 模型生成的正常回复
	ReplyTypeError    ReplyType = "ERROR"     // 面向用户的失败占位文本，未消耗 token
	ReplyTypeInfo     ReplyType = "INFO"      // 指令确认
	ReplyTypeImageURL ReplyType = "IMAGE_URL" // 图像生成结果
)

// Reply 是归一化后的回复。
type Reply struct {
	Type    ReplyType
	Content string
}

// NewReply 构造一个 Reply。
func NewReply(t ReplyType, content string) *Reply {
	return &Reply{Type: t, Content: content}
}
