package graph

import "strings"

// Cluster is one of the seven canonical emotion families.
type Cluster string

const (
	ClusterJoy               Cluster = "JOY"
	ClusterHurt              Cluster = "HURT"
	ClusterSadness           Cluster = "SADNESS"
	ClusterAnger             Cluster = "ANGER"
	ClusterAnxietyFear       Cluster = "ANXIETY_FEAR"
	ClusterSurpriseConfusion Cluster = "SURPRISE_CONFUSION"
	ClusterNeutral           Cluster = "NEUTRAL"

	Unclassified Cluster = ""
)

// Clusters lists the families in display order.
var Clusters = []Cluster{
	ClusterJoy,
	ClusterHurt,
	ClusterSadness,
	ClusterAnger,
	ClusterAnxietyFear,
	ClusterSurpriseConfusion,
	ClusterNeutral,
}

// Code families: E10-E19 is the first row, E60-E69 the last.
var codeFamilies = []struct {
	cluster Cluster
	labels  [10]string
}{
	{ClusterAnger, [10]string{"분노", "툴툴대는", "좌절한", "짜증내는", "방어적인", "악의적인", "안달하는", "구역질 나는", "노여워하는", "성가신"}},
	{ClusterSadness, [10]string{"슬픔", "실망한", "비통한", "후회되는", "우울한", "마비된", "염세적인", "눈물이 나는", "낙담한", "환멸을 느끼는"}},
	{ClusterAnxietyFear, [10]string{"불안", "두려운", "스트레스 받는", "취약한", "혼란스러운", "당혹스러운", "회의적인", "걱정스러운", "조심스러운", "초조한"}},
	{ClusterHurt, [10]string{"상처", "질투하는", "배신당한", "고립된", "충격 받은", "가난한 불우한", "희생된", "억울한", "괴로워하는", "버려진"}},
	{ClusterSurpriseConfusion, [10]string{"당황", "고립된(당황한)", "남의 시선을 의식하는", "외로운", "열등감", "죄책감의", "부끄러운", "혐오스러운", "한심한", "혼란스러운(당황한)"}},
	{ClusterJoy, [10]string{"기쁨", "감사하는", "신뢰하는", "편안한", "만족스러운", "흥분", "느긋", "안도", "신이 난", "자신하는"}},
}

const neutralLabel = "중립"

var labelClusters = func() map[string]Cluster {
	m := map[string]Cluster{neutralLabel: ClusterNeutral}
	for _, fam := range codeFamilies {
		for _, label := range fam.labels {
			if _, ok := m[label]; !ok {
				m[label] = fam.cluster
			}
		}
	}
	return m
}()

// Keyword order matters: negative families are matched first so that
// "dissatisfied" never lands in JOY through "satisf".
var clusterKeywords = []struct {
	cluster  Cluster
	keywords []string
}{
	{ClusterAnger, []string{"anger", "angry", "grump", "frustrat", "annoy", "irritat", "defensive", "spite", "malic", "impatien", "disgust", "furious", "enrag", "outrag", "dissatisf", "discontent", "displeas", "분노", "짜증"}},
	{ClusterSadness, []string{"sad", "unhapp", "disappoint", "grief", "griev", "sorrow", "regret", "depress", "numb", "pessimis", "tearful", "discourag", "disillusion", "슬픔", "우울"}},
	{ClusterAnxietyFear, []string{"anxi", "fear", "afraid", "scared", "stress", "vulnerab", "worr", "nervous", "cautious", "skeptic", "distrust", "uncomfort", "불안", "두려", "걱정"}},
	{ClusterHurt, []string{"hurt", "jealous", "betray", "isolat", "shock", "deprived", "victim", "wronged", "torment", "abandon", "상처", "배신"}},
	{ClusterSurpriseConfusion, []string{"surpris", "confus", "embarrass", "bewilder", "perplex", "self-conscious", "lonely", "inferior", "guilt", "ashamed", "shame", "pathetic", "당황", "혼란"}},
	{ClusterJoy, []string{"joy", "happ", "glad", "delight", "grateful", "thank", "trust", "comfort", "content", "satisf", "excite", "relax", "relie", "thrill", "confident", "pleas", "기쁨", "행복", "감사"}},
	{ClusterNeutral, []string{"neutral", "calm", "indifferen", "중립", "평온"}},
}

// Classify resolves an emotion id to its family. Codes like "E23" and the
// labels of the code table are authoritative; anything else is matched
// against keyword glosses and may come back Unclassified.
func Classify(emotion string) Cluster {
	id := strings.TrimSpace(emotion)
	if id == "" {
		return Unclassified
	}
	if c, ok := classifyCode(id); ok {
		return c
	}
	if c, ok := labelClusters[id]; ok {
		return c
	}
	lower := strings.ToLower(id)
	for _, group := range clusterKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(lower, kw) {
				return group.cluster
			}
		}
	}
	return Unclassified
}

func classifyCode(id string) (Cluster, bool) {
	if len(id) != 3 || (id[0] != 'E' && id[0] != 'e') {
		return Unclassified, false
	}
	tens, ones := id[1], id[2]
	if tens < '0' || tens > '9' || ones < '0' || ones > '9' {
		return Unclassified, false
	}
	if tens == '0' {
		if ones == '0' {
			return ClusterNeutral, true
		}
		return Unclassified, false
	}
	row := int(tens-'0') - 1
	if row >= len(codeFamilies) {
		return Unclassified, false
	}
	return codeFamilies[row].cluster, true
}

// CodeLabel returns the table label for an emotion code, or "" when the code
// is not in the table.
func CodeLabel(code string) string {
	if _, ok := classifyCode(code); !ok {
		return ""
	}
	if code[1] == '0' {
		return neutralLabel
	}
	return codeFamilies[int(code[1]-'1')].labels[int(code[2]-'0')]
}

// ParseCluster resolves a cluster name such as "JOY" or "anxiety_fear".
func ParseCluster(s string) (Cluster, bool) {
	c := Cluster(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Clusters {
		if c == known {
			return c, true
		}
	}
	return Unclassified, false
}
