package lexicon

// Lexicon contents. Weights are calibrated so that one strong phrase pushes a
// category score near 1.0 while incidental matches stay low.

func (r *Registry) registerAuthorityPhrases() {
	r.register("irs agent", CategoryAuthority, 1.0)
	r.register("federal officer", CategoryAuthority, 1.0)
	r.register("social security administration", CategoryAuthority, 1.0)
	r.register("security department", CategoryAuthority, 0.8)
	r.register("bank security", CategoryAuthority, 0.8)
	r.register("badge number", CategoryAuthority, 0.9)
	r.register("case number", CategoryAuthority, 0.9)
	r.register("microsoft", CategoryAuthority, 0.8)
	r.register("amazon", CategoryAuthority, 0.7)
	r.register("official", CategoryAuthority, 0.6)
}

func (r *Registry) registerUrgencyPhrases() {
	r.register("right now", CategoryUrgency, 1.0)
	r.register("immediately", CategoryUrgency, 1.0)
	r.register("within minutes", CategoryUrgency, 0.9)
	r.register("act now", CategoryUrgency, 0.9)
	r.register("final notice", CategoryUrgency, 1.0)
	r.register("last chance", CategoryUrgency, 1.0)
	r.register("account will be closed", CategoryUrgency, 0.9)
	r.register("expires", CategoryUrgency, 0.8)
}

func (r *Registry) registerThreatPhrases() {
	r.register("arrest warrant", CategoryThreats, 1.0)
	r.register("prosecution", CategoryThreats, 1.0)
	r.register("criminal charges", CategoryThreats, 1.0)
	r.register("lawsuit", CategoryThreats, 0.9)
	r.register("legal action", CategoryThreats, 0.9)
	r.register("police", CategoryThreats, 0.8)
	r.register("account suspended", CategoryThreats, 0.9)
	r.register("locked", CategoryThreats, 0.8)
}

func (r *Registry) registerPIIPhrases() {
	// Critical credentials carry max weight; common PII is weighted lower.
	r.register("password", CategoryPIIRequests, 1.0)
	r.register("pin", CategoryPIIRequests, 1.0)
	r.register("security code", CategoryPIIRequests, 1.0)
	r.register("cvv", CategoryPIIRequests, 1.0)
	r.register("otp", CategoryPIIRequests, 1.0)
	r.register("one time password", CategoryPIIRequests, 1.0)
	r.register("social security", CategoryPIIRequests, 1.0)
	r.register("ssn", CategoryPIIRequests, 1.0)
	r.register("mother's maiden name", CategoryPIIRequests, 0.9)
	r.register("date of birth", CategoryPIIRequests, 0.7)
	r.register("address", CategoryPIIRequests, 0.2)
	r.register("email", CategoryPIIRequests, 0.2)
}

func (r *Registry) registerScamPhrases() {
	r.register("virus", CategoryScamLexicon, 0.8)
	r.register("infected", CategoryScamLexicon, 0.8)
	r.register("hacked", CategoryScamLexicon, 0.8)
	r.register("remote access", CategoryScamLexicon, 1.0)
	r.register("unusual transaction", CategoryScamLexicon, 0.9)
	r.register("fraudulent activity", CategoryScamLexicon, 0.9)
	r.register("gift card", CategoryScamLexicon, 1.0)
	r.register("processing fee", CategoryScamLexicon, 1.0)
}

func (r *Registry) registerTacticPhrases() {
	// Evasive deflections used to keep the victim from thinking.
	r.register("don't worry about that", CategoryEvasiveness, 0.9)
	r.register("that's not important", CategoryEvasiveness, 0.9)
	r.register("just listen to me", CategoryEvasiveness, 0.8)
	r.register("i am not authorized to", CategoryEvasiveness, 0.7)
	r.register("let's focus on", CategoryEvasiveness, 0.6)
	r.register("you don't need to know", CategoryEvasiveness, 1.0)

	// False reassurance to build unearned trust.
	r.register("this is a secure line", CategoryFalseReassurance, 0.8)
	r.register("rest assured", CategoryFalseReassurance, 0.7)
	r.register("i'm here to help", CategoryFalseReassurance, 0.5)
	r.register("trust me", CategoryFalseReassurance, 0.9)
	r.register("this is legitimate", CategoryFalseReassurance, 0.8)
}

func (r *Registry) registerFinancialPhrases() {
	r.register("wire transfer", CategoryFinancial, 0.9)
	r.register("bank account", CategoryFinancial, 0.7)
	r.register("credit card", CategoryFinancial, 0.7)
	r.register("debit card", CategoryFinancial, 0.7)
	r.register("payment", CategoryFinancial, 0.5)
	r.register("transaction", CategoryFinancial, 0.5)
	r.register("refund", CategoryFinancial, 0.6)
	r.register("bitcoin", CategoryFinancial, 0.9)
}

// HighRiskCommands are imperative verbs worth flagging as action demands.
// Benign commands like "tell" or "let" are deliberately excluded.
var HighRiskCommands = map[string]bool{
	"install": true, "download": true, "transfer": true, "buy": true,
	"send": true, "verify": true, "provide": true, "give": true,
	"allow": true, "confirm": true, "share": true,
}

// FillerWords are ignored by repetition analysis; repeating them is normal
// conversation, not a pressure tactic.
var FillerWords = map[string]bool{
	"yes": true, "okay": true, "no": true, "sir": true, "maam": true,
	"hello": true, "right": true, "please": true, "thank": true,
	"you": true, "i": true, "the": true, "a": true,
}

// CriticalCredentials are the PII evidence items that trigger the knockout
// rule in the scoring engine.
var CriticalCredentials = map[string]bool{
	"otp": true, "password": true, "pin": true, "cvv": true,
	"security code": true,
}
