package relevance

// Rule lists. Entries are lowercase; matching is plain substring containment.
var (
	// Senders that are never job mail. A match vetoes every other rule.
	excludedSenders = []string{
		"piazza", "no-reply@piazza",
		"digest-noreply@quora",
		"notification@facebookmail",
		"noreply@discord",
		"noreply@reddit",
	}

	// Social-network activity wording.
	noisePhrases = []string{
		"viewed your profile", "connection request", "accepted your invitation",
		"commented on your post", "liked your post", "mentioned you",
		"new post in", "digest for", "weekly digest",
		"appeared in search", "who viewed", "your network",
	}

	// Recruiting platforms and hiring mailboxes, matched against the sender.
	jobSenderPatterns = []string{
		"recruit", "talent", "hiring", "careers", "jobs", "hr@", "people",
		"opportunities", "staffing", "workforce",
		"indeed", "glassdoor", "ziprecruiter", "monster",
		"lever", "greenhouse", "workday", "icims", "smartrecruiters",
		"ashby", "gem.com", "beamery", "phenom",
		"hackerrank", "codility", "codesignal", "hirevue", "karat",
		"dataannotation", "remotasks", "turing", "toptal", "upwork",
		"wellfound", "angel", "hired", "triplebyte", "interviewing.io",
		"swelist", "simplify", "pitt csc", "levels.fyi",
		"handshake", "ripplematch", "wayup", "untapped", "jumpstart",
	}

	veryStrongPhrases = []string{
		"interview", "candidate", "position", "hiring manager",
		"recruiter", "recruiting", "talent", "hr ",
		"hackerrank", "codility", "codesignal", "leetcode", "hirevue",
		"online assessment", "coding challenge", "technical screen", "take-home",
		"offer letter", "compensation package", "start date", "background check",
		"phone screen", "technical interview", "onsite interview", "final round",
		"we are pleased", "we regret", "move forward", "next steps",
		"your application", "application status", "application received",
		"thank you for applying", "thanks for applying", "thank you for your interest",
		"thank you for your application", "we received your application",
		"internship", "internships", "new internship", "posted today",
		"job alert", "job posting", "new jobs", "new positions",
	}

	strongPhrases = []string{
		"resume", "cv ", "applied", "applying", "apply now", "apply today",
		"job", "role", "opportunity", "career", "employment",
		"software", "developer", "engineer", "programmer", "swe",
		"full-time", "part-time", "new grad", "entry level",
		"senior", "junior", "staff", "principal", "lead", "manager",
		"remote work", "remote position", "hybrid", "on-site", "onsite",
		"salary", "hourly", "per hour", "compensation", "benefits", "pto",
		"unfortunately", "regret to inform", "other candidates", "not selected",
		"excited to", "pleased to", "delighted", "congratulations",
		"job description", "view job", "see job", "job details", "learn more",
		"good fit", "great fit", "good match", "great match",
		"your background", "your skills", "your experience", "your profile",
		"schedule a call", "schedule a time", "book a time", "calendly",
		"ai trainer", "data annotation", "annotator",
		"daily update", "job board", "tech jobs", "tech internship",
		"summer intern", "fall intern", "spring intern", "winter intern",
	}

	// Moderate keywords only look at subject+snippet text and never add a reason.
	moderateKeywords = []string{
		"team", "company", "organization", "startup", "tech",
		"openings", "open role", "looking for", "seeking",
		"experience", "skills", "qualifications", "requirements",
		"linkedin", "workday", "greenhouse", "lever", "icims", "ashby",
		"schedule", "availability", "calendar", "slot",
		"python", "java", "javascript", "typescript", "react", "node",
		"c++", "golang", "rust", "sql", "aws", "azure", "gcp",
		"backend", "frontend", "full stack", "fullstack", "devops", "sre",
		"data science", "machine learning", "ml ", "ai ",
		"flexible", "competitive", "market rate",
		"work from home", "wfh", "fully remote",
	}

	spamPhrases = []string{
		"unsubscribe from all marketing",
		"order has shipped", "tracking number", "delivery status",
		"reset your password", "verify your email address",
		"invoice #", "payment receipt", "billing statement",
		"you won", "claim your prize", "act now limited time",
		"crypto investment", "bitcoin opportunity",
	}

	subjectWords = []string{
		"application", "interview", "opportunity", "position", "role",
		"job", "career", "offer", "assessment", "next steps",
		"your profile", "your background", "match", "fit",
	}
)

// Rule weights.
const (
	VetoScore        = -100
	noisePenalty     = -50
	senderBonus      = 20
	veryStrongWeight = 15
	strongWeight     = 8
	moderateWeight   = 4
	spamPenalty      = -15
	subjectBonus     = 10
)
