package main

// verifyDoc is one document of the fixed verification corpus.
type verifyDoc struct {
	id, title, body, tags string
}

func (d verifyDoc) fields() map[string]any {
	return map[string]any{"id": d.id, "title": d.title, "body": d.body, "tags": d.tags}
}

var verifyCorpus = []verifyDoc{
	{"doc1", "Introduction to Go Programming",
		"Go is a statically typed compiled language designed at Google. It has garbage collection and structural typing.",
		"programming language go google"},
	{"doc2", "Python Programming Guide",
		"Python is a high-level interpreted language known for its simplicity. It is widely used in data science and machine learning.",
		"programming language python data science"},
	{"doc3", "Rust Programming Language",
		"Rust is a systems programming language focused on safety and performance. No garbage collection needed.",
		"programming language rust systems safety"},
	{"doc4", "PostgreSQL Guide",
		"PostgreSQL is a powerful open source relational database. It supports advanced features like JSON and full text search.",
		"database sql postgresql open source"},
	{"doc5", "Redis In-Memory Database",
		"Redis is an in-memory data structure store used as a database cache and message broker.",
		"database redis cache memory nosql"},
	{"doc6", "Web Development with React",
		"React is a JavaScript library for building user interfaces. It uses a virtual DOM for performance.",
		"web frontend javascript react dom"},
	{"doc7", "Backend Web Development",
		"Backend development involves server-side logic and database interactions. Common languages include Python Go and Java.",
		"web backend server api"},
	{"doc8", "Cloud Computing Overview",
		"Cloud computing provides on-demand computing resources over the internet. Major providers include AWS Azure and Google Cloud.",
		"cloud computing aws azure google"},
	{"doc9", "Machine Learning Fundamentals",
		"Machine learning is a subset of artificial intelligence. It uses algorithms to learn from data and make predictions.",
		"machine learning ai data algorithms"},
	{"doc10", "DevOps Best Practices",
		"DevOps combines development and operations to improve collaboration. Key practices include CI/CD and infrastructure as code.",
		"devops cicd infrastructure automation"},
	{"doc11", "Google Search Engine",
		"Google is the most popular search engine. Google was founded in 1998 by Larry Page and Sergey Brin at Google headquarters.",
		"google search engine company"},
	{"doc12", "New York City Guide",
		"New York City is the largest city in the United States. New York is known for the Statue of Liberty and Central Park.",
		"new york city travel usa"},
	{"doc13", "Los Angeles Travel Guide",
		"Los Angeles is a major city in California in the United States. It is known for Hollywood and beautiful beaches.",
		"los angeles california travel usa"},
	{"doc14", "United Kingdom Overview",
		"The United Kingdom consists of England Scotland Wales and Northern Ireland. London is the capital city.",
		"united kingdom uk europe london"},
	{"doc15", "Football Rules and History",
		"Football is the most popular sport in the world. The player kicks the ball into the goal to score points.",
		"football sport player team ball"},
	{"doc16", "Basketball Game Rules",
		"Basketball is a team sport where players score by shooting the ball through a hoop. Each team has five players.",
		"basketball sport player team ball"},
	{"doc17", "Data Structures Overview",
		"Data structures organize and store data efficiently. Common structures include arrays lists trees and hash tables.",
		"data structures programming algorithms"},
	{"doc18", "Algorithm Design Patterns",
		"Algorithm design patterns help solve complex problems. Common patterns include divide and conquer dynamic programming and greedy algorithms.",
		"algorithms programming patterns"},
	{"doc19", "Software Testing Methods",
		"Software testing ensures code quality. Types include unit testing integration testing and end to end testing.",
		"testing software quality assurance"},
	{"doc20", "Cybersecurity Fundamentals",
		"Cybersecurity protects systems from attacks. Important concepts include encryption authentication and authorization.",
		"security cyber encryption protection"},
}

// verifyCase is a query with the ids it must match, in any order.
type verifyCase struct {
	query string
	want  []string
}

type verifyCategory struct {
	name  string
	cases []verifyCase
}

var verifyCategories = []verifyCategory{
	{"TERM", []verifyCase{
		{"programming", []string{"doc1", "doc2", "doc3", "doc17", "doc18"}},
		{"database", []string{"doc4", "doc5", "doc7"}},
		{"google", []string{"doc1", "doc8", "doc11"}},
		{"nonexistent", nil},
		{"player", []string{"doc15", "doc16"}},
		{"data", []string{"doc2", "doc5", "doc9", "doc17"}},
		{"id:doc14", []string{"doc14"}},
	}},
	{"FIELD", []verifyCase{
		{"title:programming", []string{"doc1", "doc2", "doc3"}},
		{"title:guide", []string{"doc2", "doc4", "doc12", "doc13"}},
		{"body:python", []string{"doc2", "doc7"}},
		{"tags:sport", []string{"doc15", "doc16"}},
		{"tags:usa", []string{"doc12", "doc13"}},
	}},
	{"PHRASE", []verifyCase{
		{`"united states"`, []string{"doc12", "doc13"}},
		{`"machine learning"`, []string{"doc2", "doc9"}},
		{`"the united states"`, []string{"doc12", "doc13"}},
		{`title:"united states"`, nil},
		{`"python rust"`, nil},
		{`"new york city"`, []string{"doc12"}},
		{`title:"new york"`, []string{"doc12"}},
	}},
	{"PREFIX", []verifyCase{
		{"prog*", []string{"doc1", "doc2", "doc3", "doc17", "doc18"}},
		{"dev*", []string{"doc6", "doc7", "doc10"}},
		{"postgre*", []string{"doc4"}},
		{"title:prog*", []string{"doc1", "doc2", "doc3"}},
	}},
	{"REGEX AND FUZZY", []verifyCase{
		{"title:/rul.s/", []string{"doc15", "doc16"}},
		{"tags:/(foot|basket)ball/", []string{"doc15", "doc16"}},
		{"body:pythn~1", []string{"doc2", "doc7"}},
		{"tags:footbal~1", []string{"doc15"}},
		{"body:gooogle~2", []string{"doc1", "doc8", "doc11"}},
	}},
	{"RANGE", []verifyCase{
		{"id:[doc10 TO doc12]", []string{"doc10", "doc11", "doc12"}},
		{"id:{doc10 TO doc12}", []string{"doc11"}},
		{"id:[doc8 TO *]", []string{"doc8", "doc9"}},
	}},
	{"BOOLEAN", []verifyCase{
		{"programming AND language", []string{"doc1", "doc2", "doc3"}},
		{"football AND basketball", nil},
		{"programming AND language AND go", []string{"doc1"}},
		{"title:guide AND tags:travel", []string{"doc12", "doc13"}},
		{"postgresql OR redis", []string{"doc4", "doc5"}},
		{"go OR python OR rust", []string{"doc1", "doc2", "doc3", "doc7"}},
		{"programming AND NOT language", []string{"doc17", "doc18"}},
		{"database AND -redis", []string{"doc4", "doc7"}},
		{"programming -language", []string{"doc17", "doc18"}},
		{"tags:programming AND NOT tags:language", []string{"doc17", "doc18"}},
	}},
	{"GROUPED", []verifyCase{
		{"(football OR basketball) AND player", []string{"doc15", "doc16"}},
		{"united AND (states OR kingdom)", []string{"doc12", "doc13", "doc14"}},
		{"(new AND york) OR (los AND angeles)", []string{"doc12", "doc13"}},
		{`"united states" AND NOT california`, []string{"doc12"}},
		{"(foot* OR bask*) AND (player OR team)", []string{"doc15", "doc16"}},
		{"(prog* AND language) OR database", []string{"doc1", "doc2", "doc3", "doc4", "doc5", "doc7"}},
	}},
}
