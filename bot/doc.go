// Package bot 实现聊天机器人核心：会话管理、Provider 调用与
// 按错误分类的有界重试，以及把异构 Provider 结果归一化为统一 Reply。
//
// 一条入站消息的处理流程：
//
//	插件改写上下文 → 选择 Bot → SessionManager.SessionQuery（追加消息并裁剪）
//	→ ChatBot.replyText（调用 + 重试）→ SessionManager.SessionReply → Reply
package bot
